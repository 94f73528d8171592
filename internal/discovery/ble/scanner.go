// 📁 internal/discovery/ble/scanner.go - Bluetooth LE Scanner Implementation
package ble

import (
	"context"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/discovery"
	"anova-service/internal/model"
	bletransport "anova-service/internal/transport/ble"
)

// Radio is the part of the BLE adapter the scanner needs
type Radio interface {
	Available() bool
	Scan(ctx context.Context, timeout time.Duration, visit func(model.Advertisement) bool) error
}

var _ Radio = (*bletransport.Adapter)(nil)

// Scanner finds the appliance among local BLE advertisements
type Scanner struct {
	radio     Radio
	signature discovery.Signature
	logger    *zap.Logger
}

// NewScanner creates a new BLE scanner
func NewScanner(radio Radio, signature discovery.Signature, logger *zap.Logger) *Scanner {
	return &Scanner{
		radio:     radio,
		signature: signature,
		logger:    logger.With(zap.String("scanner", "ble")),
	}
}

func (s *Scanner) Type() string {
	return "ble"
}

func (s *Scanner) IsAvailable() bool {
	return s.radio.Available()
}

// Scan stops at the first advertisement matching the signature
func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) (*model.Advertisement, error) {
	s.logger.Info("Starting BLE scan", zap.Duration("timeout", timeout))

	var found *model.Advertisement
	seen := 0
	err := s.radio.Scan(ctx, timeout, func(adv model.Advertisement) bool {
		seen++
		if !s.signature.Matches(adv) {
			return false
		}
		match := adv
		found = &match
		return true
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		s.logger.Info("Appliance not found", zap.Int("advertisements", seen))
		return nil, nil
	}
	s.logger.Info("Appliance found",
		zap.String("address", found.Address),
		zap.String("name", found.Name),
		zap.Int("rssi", found.RSSI),
	)
	return found, nil
}
