// 📁 internal/discovery/relay/scanner.go - Relay Scanner Implementation
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/discovery"
	"anova-service/internal/model"
	"anova-service/internal/transport/relay"
)

// Remote is the scan call of a relay client
type Remote interface {
	BaseURL() string
	Scan(ctx context.Context, timeout time.Duration) ([]model.Advertisement, error)
}

var _ Remote = (*relay.Client)(nil)

// Scanner asks a relay to scan on its radio. Relay failures are reported as
// not found so periodic discovery keeps running.
type Scanner struct {
	remote    Remote
	signature discovery.Signature
	logger    *zap.Logger
}

// NewScanner creates a new relay scanner
func NewScanner(remote Remote, signature discovery.Signature, logger *zap.Logger) *Scanner {
	return &Scanner{
		remote:    remote,
		signature: signature,
		logger:    logger.With(zap.String("scanner", "relay"), zap.String("relay", remote.BaseURL())),
	}
}

func (s *Scanner) Type() string {
	return "relay"
}

func (s *Scanner) IsAvailable() bool {
	return true
}

func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) (*model.Advertisement, error) {
	advs, err := s.remote.Scan(ctx, timeout)
	if err != nil {
		s.logger.Warn("Relay scan failed", zap.Error(err))
		return nil, nil
	}

	matched := s.signature.Filter(advs)
	if len(matched) == 0 {
		s.logger.Info("Appliance not found", zap.Int("advertisements", len(advs)))
		return nil, nil
	}

	found := matched[0]
	s.logger.Info("Appliance found",
		zap.String("address", found.Address),
		zap.String("name", found.Name),
	)
	return &found, nil
}
