package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/model"
	"anova-service/internal/transport"
)

// Dialer builds a direct link to the appliance at address
type Dialer func(address string) (transport.Link, error)

// ScanFunc enumerates nearby advertisements for timeout
type ScanFunc func(ctx context.Context, timeout time.Duration) ([]model.Advertisement, error)

// Radio is the relay side of the contract: it owns the only direct links and
// runs the same exchange as a local direct transport. The host has one radio,
// so scans and exchanges are serialized.
type Radio struct {
	dial   Dialer
	scan   ScanFunc
	config transport.DirectConfig
	logger *zap.Logger

	mu      sync.Mutex
	directs map[string]*transport.Direct
}

// NewRadio creates a relay radio
func NewRadio(dial Dialer, scan ScanFunc, config transport.DirectConfig, logger *zap.Logger) *Radio {
	return &Radio{
		dial:    dial,
		scan:    scan,
		config:  config,
		logger:  logger.With(zap.String("component", "relay_radio")),
		directs: make(map[string]*transport.Direct),
	}
}

// Scan returns every advertisement seen during timeout
func (r *Radio) Scan(ctx context.Context, timeout time.Duration) ([]model.Advertisement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scan(ctx, timeout)
}

// Exchange connects to address if needed and performs one exchange. Links
// that drop are forgotten so the next call reconnects.
func (r *Radio) Exchange(ctx context.Context, address, frame string, timeout time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	direct, err := r.direct(ctx, address)
	if err != nil {
		return "", err
	}

	reply, err := direct.Exchange(ctx, frame, timeout)
	if errors.Is(err, transport.ErrLinkLost) || errors.Is(err, transport.ErrNotOpen) {
		r.logger.Warn("Link lost, forgetting appliance", zap.String("address", address), zap.Error(err))
		direct.Close()
		delete(r.directs, address)
	}
	return reply, err
}

func (r *Radio) direct(ctx context.Context, address string) (*transport.Direct, error) {
	if direct, ok := r.directs[address]; ok {
		return direct, nil
	}

	link, err := r.dial(address)
	if err != nil {
		return nil, fmt.Errorf("failed to create link to %s: %w", address, err)
	}
	direct := transport.NewDirect(model.Identity{Address: address}, link, r.config, r.logger)
	if err := direct.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	r.logger.Info("Connected to appliance", zap.String("address", address))
	r.directs[address] = direct
	return direct, nil
}

// Close disconnects every link
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for address, direct := range r.directs {
		if err := direct.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", address, err))
		}
		delete(r.directs, address)
	}
	return errors.Join(errs...)
}
