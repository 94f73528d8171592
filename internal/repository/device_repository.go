// internal/repository/device_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"anova-service/internal/database"
	"anova-service/internal/model"
)

// deviceRepository implements DeviceRepository on PostgreSQL
type deviceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *database.DB, logger *zap.Logger) DeviceRepository {
	return &deviceRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "devices")),
	}
}

const deviceColumns = `address, name, transport, status, target_temperature, unit,
	consecutive_failures, metadata, last_seen, created_at, updated_at`

// Upsert inserts a record or updates the existing one for the same address
func (r *deviceRepository) Upsert(ctx context.Context, record *model.DeviceRecord) error {
	query := `
		INSERT INTO devices (
			address, name, transport, status, target_temperature, unit,
			consecutive_failures, metadata, last_seen
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			transport = EXCLUDED.transport,
			status = EXCLUDED.status,
			target_temperature = COALESCE(EXCLUDED.target_temperature, devices.target_temperature),
			unit = CASE WHEN EXCLUDED.unit = '' THEN devices.unit ELSE EXCLUDED.unit END,
			consecutive_failures = EXCLUDED.consecutive_failures,
			metadata = COALESCE(EXCLUDED.metadata, devices.metadata),
			last_seen = COALESCE(EXCLUDED.last_seen, devices.last_seen),
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		record.Address, record.Name, record.Transport, record.Status,
		record.TargetTemperature, record.Unit, record.Failures,
		record.Metadata, record.LastSeen,
	).Scan(&record.CreatedAt, &record.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to upsert device", zap.Error(err), zap.String("address", record.Address))
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	r.logger.Debug("Device record saved", zap.String("address", record.Address))
	return nil
}

// Get retrieves a record by address
func (r *deviceRepository) Get(ctx context.Context, address string) (*model.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE address = $1`

	record, err := scanDevice(r.db.QueryRowContext(ctx, query, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
		}
		r.logger.Error("Failed to get device", zap.Error(err), zap.String("address", address))
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return record, nil
}

// List retrieves every record, most recently seen first
func (r *deviceRepository) List(ctx context.Context) ([]*model.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY last_seen DESC NULLS LAST, address`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	records := []*model.DeviceRecord{}
	for rows.Next() {
		record, err := scanDevice(rows)
		if err != nil {
			r.logger.Error("Failed to scan device", zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return records, nil
}

// Delete removes the record for address
func (r *deviceRepository) Delete(ctx context.Context, address string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE address = $1`, address)
	if err != nil {
		r.logger.Error("Failed to delete device", zap.Error(err), zap.String("address", address))
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.logger.Debug("No device record to delete", zap.String("address", address))
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*model.DeviceRecord, error) {
	record := &model.DeviceRecord{}
	var target sql.NullFloat64
	var lastSeen sql.NullTime

	err := row.Scan(
		&record.Address, &record.Name, &record.Transport, &record.Status,
		&target, &record.Unit, &record.Failures, &record.Metadata,
		&lastSeen, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if target.Valid {
		value := target.Float64
		record.TargetTemperature = &value
	}
	if lastSeen.Valid {
		seen := lastSeen.Time
		record.LastSeen = &seen
	}
	return record, nil
}
