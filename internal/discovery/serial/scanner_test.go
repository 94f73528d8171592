package serial

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/discovery"
)

func TestScan(t *testing.T) {
	ports := func() ([]string, error) { return []string{"/dev/ttyS0", "/dev/ttyUSB0"}, nil }

	s := NewScannerWithLister("/dev/ttyUSB0", ports, discovery.DefaultSignature, zap.NewNop())
	adv, err := s.Scan(context.Background(), time.Second)
	if err != nil || adv == nil || adv.Address != "/dev/ttyUSB0" {
		t.Fatalf("Scan = %+v, %v", adv, err)
	}
	if !discovery.DefaultSignature.Matches(*adv) {
		t.Fatal("bridge advertisement must match the signature")
	}

	missing := NewScannerWithLister("/dev/ttyACM0", ports, discovery.DefaultSignature, zap.NewNop())
	if adv, err := missing.Scan(context.Background(), time.Second); adv != nil || err != nil {
		t.Fatalf("Scan = %+v, %v; want not found", adv, err)
	}
}

func TestScanListError(t *testing.T) {
	s := NewScannerWithLister("/dev/ttyUSB0", func() ([]string, error) {
		return nil, errors.New("permission denied")
	}, discovery.DefaultSignature, zap.NewNop())
	if _, err := s.Scan(context.Background(), time.Second); err == nil {
		t.Fatal("expected error when ports cannot be listed")
	}
	if NewScannerWithLister("", nil, discovery.DefaultSignature, zap.NewNop()).IsAvailable() {
		t.Fatal("scanner without port must be unavailable")
	}
}
