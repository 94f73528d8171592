// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"

	"anova-service/internal/model"
)

// ErrDeviceNotFound is returned when no record exists for an address
var ErrDeviceNotFound = errors.New("device record not found")

// DeviceRepository defines device record data access operations
type DeviceRepository interface {
	Upsert(ctx context.Context, record *model.DeviceRecord) error
	Get(ctx context.Context, address string) (*model.DeviceRecord, error)
	List(ctx context.Context) ([]*model.DeviceRecord, error)
	Delete(ctx context.Context, address string) error
}
