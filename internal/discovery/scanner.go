// 📁 internal/discovery/scanner.go - Main Scanner Interface
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"anova-service/internal/model"
)

// bluetoothBaseUUID expands 16-bit and 32-bit shorthand identifiers
const bluetoothBaseUUID = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID expands a 16-bit ("ffe0"), 32-bit or full service identifier
// to its lowercase 128-bit form.
func NormalizeUUID(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBaseUUID
	case 8:
		s = s + bluetoothBaseUUID
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid service uuid %q: %w", s, err)
	}
	return id.String(), nil
}

// Signature is the advertised name and service identifier that mark the appliance
type Signature struct {
	Name        string
	ServiceUUID string
}

// DefaultSignature matches the Anova Precision Cooker
var DefaultSignature = Signature{Name: "Anova", ServiceUUID: "ffe0"}

// Matches applies one rule everywhere: exact name, and a service identifier
// equal to the signature's after normalization to the 128-bit form.
func (s Signature) Matches(adv model.Advertisement) bool {
	if adv.Name != s.Name {
		return false
	}
	want, err := NormalizeUUID(s.ServiceUUID)
	if err != nil {
		return false
	}
	for _, candidate := range adv.ServiceUUIDs {
		got, err := NormalizeUUID(candidate)
		if err == nil && strings.EqualFold(got, want) {
			return true
		}
	}
	return false
}

// Filter returns the advertisements that match the signature
func (s Signature) Filter(advs []model.Advertisement) []model.Advertisement {
	var matched []model.Advertisement
	for _, adv := range advs {
		if s.Matches(adv) {
			matched = append(matched, adv)
		}
	}
	return matched
}

// Scanner finds the appliance on one kind of channel - Strategy Pattern.
// A scan that finds nothing returns (nil, nil).
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) (*model.Advertisement, error)
	Type() string
	IsAvailable() bool
}

// Manager manages all device scanners - Facade Pattern
type Manager struct {
	mu       sync.RWMutex
	scanners map[string]Scanner
	logger   *zap.Logger
}

// NewManager creates a new scanner manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		scanners: make(map[string]Scanner),
		logger:   logger.With(zap.String("component", "discovery")),
	}
}

// Register registers a device scanner
func (m *Manager) Register(scanner Scanner) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scannerType := scanner.Type()
	m.scanners[scannerType] = scanner
	m.logger.Info("Scanner registered", zap.String("type", scannerType))
}

func (m *Manager) sorted() []Scanner {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(m.scanners))
	for scannerType := range m.scanners {
		types = append(types, scannerType)
	}
	sort.Strings(types)

	scanners := make([]Scanner, 0, len(types))
	for _, scannerType := range types {
		scanners = append(scanners, m.scanners[scannerType])
	}
	return scanners
}

// ScanAll runs every available scanner and collects what they found.
// Scanner failures are logged and skipped.
func (m *Manager) ScanAll(ctx context.Context, timeout time.Duration) []model.Advertisement {
	var found []model.Advertisement

	for _, scanner := range m.sorted() {
		scannerType := scanner.Type()
		if !scanner.IsAvailable() {
			m.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		adv, err := scanner.Scan(ctx, timeout)
		if err != nil {
			m.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}
		if adv == nil {
			m.logger.Debug("Scanner found nothing", zap.String("type", scannerType))
			continue
		}

		m.logger.Info("Scanner found appliance",
			zap.String("type", scannerType),
			zap.String("address", adv.Address),
			zap.Int("rssi", adv.RSSI),
		)
		found = append(found, *adv)
	}

	return found
}

// Scan returns the first appliance found by any available scanner
func (m *Manager) Scan(ctx context.Context, timeout time.Duration) (*model.Advertisement, error) {
	for _, scanner := range m.sorted() {
		if !scanner.IsAvailable() {
			continue
		}
		adv, err := scanner.Scan(ctx, timeout)
		if err != nil {
			m.logger.Error("Scanner failed", zap.String("type", scanner.Type()), zap.Error(err))
			continue
		}
		if adv != nil {
			return adv, nil
		}
	}
	return nil, ctx.Err()
}

// ScanByType scans with a specific scanner type
func (m *Manager) ScanByType(ctx context.Context, scannerType string, timeout time.Duration) (*model.Advertisement, error) {
	m.mu.RLock()
	scanner, exists := m.scanners[scannerType]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}
	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}
	return scanner.Scan(ctx, timeout)
}

// AvailableScanners returns list of available scanner types
func (m *Manager) AvailableScanners() []string {
	var available []string
	for _, scanner := range m.sorted() {
		if scanner.IsAvailable() {
			available = append(available, scanner.Type())
		}
	}
	return available
}
