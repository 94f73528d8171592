// internal/transport/direct.go
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/model"
	"anova-service/internal/retry"
)

// DefaultResponseGrace is added to the caller's timeout when waiting for a reply
const DefaultResponseGrace = 5 * time.Second

// DirectConfig tunes the write/notify exchange
type DirectConfig struct {
	ResponseGrace time.Duration
	WriteAttempts int
	WriteDelay    time.Duration
}

// Direct performs exchanges over a Link it owns. The relay process runs the
// same code against its own radio.
type Direct struct {
	identity model.Identity
	link     Link
	config   DirectConfig
	logger   *zap.Logger

	statsMu sync.Mutex
	stats   Stats
}

// NewDirect wraps a link for the given appliance
func NewDirect(identity model.Identity, link Link, config DirectConfig, logger *zap.Logger) *Direct {
	if config.ResponseGrace <= 0 {
		config.ResponseGrace = DefaultResponseGrace
	}
	if config.WriteAttempts < 1 {
		config.WriteAttempts = 3
	}
	return &Direct{
		identity: identity,
		link:     link,
		config:   config,
		logger: logger.With(
			zap.String("transport", string(model.TransportDirect)),
			zap.String("address", identity.Address),
		),
	}
}

func (d *Direct) Mode() model.TransportMode {
	return model.TransportDirect
}

func (d *Direct) Identity() model.Identity {
	return d.identity
}

func (d *Direct) Open(ctx context.Context) error {
	return d.link.Open(ctx)
}

func (d *Direct) Close() error {
	return d.link.Close()
}

// Stats returns a snapshot of the exchange statistics
func (d *Direct) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// Exchange subscribes, writes frame plus delimiter and accumulates fragments
// until one carries the delimiter or timeout plus the response grace elapses.
// The subscription is closed on every return path.
func (d *Direct) Exchange(ctx context.Context, frame string, timeout time.Duration) (reply string, err error) {
	if !d.link.IsOpen() {
		return "", ErrNotOpen
	}

	started := time.Now()
	payload := append([]byte(frame), Delimiter)
	var received int
	defer func() {
		d.statsMu.Lock()
		d.stats.record(time.Since(started), len(payload), received, err)
		d.statsMu.Unlock()
	}()

	sub, err := d.link.Subscribe(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			d.logger.Debug("Failed to close subscription", zap.Error(cerr))
		}
	}()

	writePolicy := retry.Policy{
		Attempts: d.config.WriteAttempts,
		Delay:    d.config.WriteDelay,
		Retryable: func(err error) bool {
			return !errors.Is(err, ErrNotOpen)
		},
		OnRetry: func(attempt int, err error) {
			d.logger.Warn("Write failed, retrying",
				zap.String("frame", frame),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}
	var attempts int
	err = retry.Do(ctx, writePolicy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		return d.link.Write(ctx, payload)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, ErrNotOpen) {
			return "", err
		}
		return "", &WriteError{Attempts: attempts, Err: err}
	}

	deadline := time.NewTimer(timeout + d.config.ResponseGrace)
	defer deadline.Stop()

	var buffer bytes.Buffer
collect:
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			d.logger.Warn("Timed out waiting for response",
				zap.String("frame", frame),
				zap.Duration("timeout", timeout+d.config.ResponseGrace),
				zap.Int("buffered", buffer.Len()),
			)
			return "", ErrTimeout
		case fragment, ok := <-sub.Fragments():
			if !ok {
				return "", ErrLinkLost
			}
			if len(fragment) == 0 {
				break collect
			}
			received += len(fragment)
			buffer.Write(fragment)
			if bytes.IndexByte(fragment, Delimiter) >= 0 {
				break collect
			}
		}
	}

	return ReplyText(buffer.Bytes())
}

// ReplyText cuts the buffer at the first delimiter and strips whitespace
func ReplyText(buffer []byte) (string, error) {
	if i := bytes.IndexByte(buffer, Delimiter); i >= 0 {
		buffer = buffer[:i]
	}
	text := string(bytes.TrimSpace(buffer))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
