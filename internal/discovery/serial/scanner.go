// 📁 internal/discovery/serial/scanner.go - Serial Bridge Scanner Implementation
package serial

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"anova-service/internal/discovery"
	"anova-service/internal/model"
)

// PortLister enumerates serial ports; replaced in tests
type PortLister func() ([]string, error)

// Scanner reports the configured UART bridge as the appliance when its port
// is present. The bridge is paired to one cooker, so presence is the signal.
type Scanner struct {
	port      string
	list      PortLister
	signature discovery.Signature
	logger    *zap.Logger
}

// NewScanner creates a new serial bridge scanner
func NewScanner(port string, signature discovery.Signature, logger *zap.Logger) *Scanner {
	return NewScannerWithLister(port, serial.GetPortsList, signature, logger)
}

// NewScannerWithLister creates a scanner that enumerates ports through list
func NewScannerWithLister(port string, list PortLister, signature discovery.Signature, logger *zap.Logger) *Scanner {
	return &Scanner{
		port:      port,
		list:      list,
		signature: signature,
		logger:    logger.With(zap.String("scanner", "serial"), zap.String("port", port)),
	}
}

func (s *Scanner) Type() string {
	return "serial"
}

// IsAvailable checks if a bridge port is configured
func (s *Scanner) IsAvailable() bool {
	return s.port != ""
}

func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) (*model.Advertisement, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	s.logger.Debug("Found serial ports", zap.Strings("ports", ports))

	for _, port := range ports {
		if port != s.port {
			continue
		}
		s.logger.Info("Bridge port present")
		return &model.Advertisement{
			Address:      port,
			Name:         s.signature.Name,
			ServiceUUIDs: []string{s.signature.ServiceUUID},
		}, nil
	}

	s.logger.Info("Bridge port not present")
	return nil, nil
}
