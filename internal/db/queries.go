package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"acfleet/internal/apperr"
	"acfleet/internal/models"
)

const deviceColumns = "id, name, uuid, owner_id, brand_config, ir_config, last_state, mic_config, setup_status, supported_brands, enable_current, is_online, last_seen"

func scanDevice(row pgx.Row) (*models.Device, error) {
	var d models.Device
	err := row.Scan(&d.ID, &d.Name, &d.UUID, &d.OwnerID, &d.BrandConfig, &d.IRConfig,
		&d.LastState, &d.MicConfig, &d.SetupStatus, &d.SupportedBrands,
		&d.EnableCurrent, &d.IsOnline, &d.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("device: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeviceByID fetches a device by repository id
func (d *DB) GetDeviceByID(ctx context.Context, id int64) (*models.Device, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = $1", id)
	return scanDevice(row)
}

// GetDeviceByUUID fetches a device by its immutable hardware uuid
func (d *DB) GetDeviceByUUID(ctx context.Context, uuid string) (*models.Device, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+deviceColumns+" FROM devices WHERE uuid = $1", uuid)
	return scanDevice(row)
}

// GetDevicesByOwner fetches all devices bound to one user
func (d *DB) GetDevicesByOwner(ctx context.Context, ownerID int64) ([]models.Device, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+deviceColumns+" FROM devices WHERE owner_id = $1 ORDER BY id", ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *dev)
	}
	return devices, rows.Err()
}

// InsertDevice creates a device row and fills in the assigned id
func (d *DB) InsertDevice(ctx context.Context, dev *models.Device) error {
	if dev.SetupStatus == "" {
		dev.SetupStatus = models.SetupUninitialized
	}
	return d.pool.QueryRow(ctx,
		`INSERT INTO devices (name, uuid, owner_id, brand_config, ir_config, last_state, mic_config, setup_status, supported_brands, enable_current, is_online, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		dev.Name, dev.UUID, dev.OwnerID, dev.BrandConfig, dev.IRConfig, dev.LastState,
		dev.MicConfig, dev.SetupStatus, dev.SupportedBrands, dev.EnableCurrent,
		dev.IsOnline, dev.LastSeen).Scan(&dev.ID)
}

// UpdateDevice persists the full mutable state of a device row
func (d *DB) UpdateDevice(ctx context.Context, dev *models.Device) error {
	_, err := d.pool.Exec(ctx,
		`UPDATE devices SET name=$1, owner_id=$2, brand_config=$3, ir_config=$4, last_state=$5,
		 mic_config=$6, setup_status=$7, supported_brands=$8, enable_current=$9, is_online=$10, last_seen=$11
		 WHERE id=$12`,
		dev.Name, dev.OwnerID, dev.BrandConfig, dev.IRConfig, dev.LastState,
		dev.MicConfig, dev.SetupStatus, dev.SupportedBrands, dev.EnableCurrent,
		dev.IsOnline, dev.LastSeen, dev.ID)
	return err
}

// DeleteDevice removes a device row (audit logs and readings cascade)
func (d *DB) DeleteDevice(ctx context.Context, id int64) error {
	_, err := d.pool.Exec(ctx, "DELETE FROM devices WHERE id = $1", id)
	return err
}

// InsertAuditLog appends one audit row
func (d *DB) InsertAuditLog(ctx context.Context, entry *models.AuditLog) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := d.pool.Exec(ctx,
		"INSERT INTO audit_logs (device_id, owner_id, action, details, timestamp) VALUES ($1, $2, $3, $4, $5)",
		entry.DeviceID, entry.OwnerID, string(entry.Action), entry.Details, ts)
	return err
}

// GetAuditLogs fetches recent audit rows for a device, optionally filtered by
// action kind and a lower time bound
func (d *DB) GetAuditLogs(ctx context.Context, deviceID int64, limit int, action string, since *time.Time) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, device_id, owner_id, action, details, timestamp FROM audit_logs WHERE device_id = $1"
	args := []interface{}{deviceID}
	if action != "" {
		args = append(args, action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.DeviceID, &l.OwnerID, &l.Action, &l.Details, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// InsertSensorReading appends one time-series sample
func (d *DB) InsertSensorReading(ctx context.Context, r *models.SensorReading) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := d.pool.Exec(ctx,
		"INSERT INTO sensor_readings (device_id, temperature, humidity, current, timestamp) VALUES ($1, $2, $3, $4, $5)",
		r.DeviceID, r.Temperature, r.Humidity, r.Current, ts)
	return err
}

// GetSensorReadings fetches recent samples for a device, newest first
func (d *DB) GetSensorReadings(ctx context.Context, deviceID int64, limit int) ([]models.SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.pool.Query(ctx,
		"SELECT id, device_id, temperature, humidity, current, timestamp FROM sensor_readings WHERE device_id = $1 ORDER BY timestamp DESC LIMIT $2",
		deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []models.SensorReading
	for rows.Next() {
		var r models.SensorReading
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Temperature, &r.Humidity, &r.Current, &r.Timestamp); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

const routineColumns = "id, name, enabled, cron, triggers, actions, last_run, owner_id"

func scanRoutine(row pgx.Row) (*models.Routine, error) {
	var r models.Routine
	var cron *string
	err := row.Scan(&r.ID, &r.Name, &r.Enabled, &cron, &r.Triggers, &r.Actions, &r.LastRun, &r.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("routine: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if cron != nil {
		r.Cron = *cron
	}
	return &r, nil
}

// GetRoutineByID fetches a routine
func (d *DB) GetRoutineByID(ctx context.Context, id int64) (*models.Routine, error) {
	row := d.pool.QueryRow(ctx, "SELECT "+routineColumns+" FROM routines WHERE id = $1", id)
	return scanRoutine(row)
}

// GetRoutinesByOwner fetches a user's routines, optionally only enabled ones
func (d *DB) GetRoutinesByOwner(ctx context.Context, ownerID int64, enabledOnly bool) ([]models.Routine, error) {
	query := "SELECT " + routineColumns + " FROM routines WHERE owner_id = $1"
	if enabledOnly {
		query += " AND enabled"
	}
	query += " ORDER BY id"
	rows, err := d.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routines []models.Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		routines = append(routines, *r)
	}
	return routines, rows.Err()
}

// GetAllRoutines fetches every routine; used to re-register cron jobs on boot
func (d *DB) GetAllRoutines(ctx context.Context) ([]models.Routine, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+routineColumns+" FROM routines ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routines []models.Routine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		routines = append(routines, *r)
	}
	return routines, rows.Err()
}

// InsertRoutine creates a routine row and fills in the assigned id
func (d *DB) InsertRoutine(ctx context.Context, r *models.Routine) error {
	return d.pool.QueryRow(ctx,
		"INSERT INTO routines (name, enabled, cron, triggers, actions, owner_id) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6) RETURNING id",
		r.Name, r.Enabled, r.Cron, r.Triggers, r.Actions, r.OwnerID).Scan(&r.ID)
}

// UpdateRoutine persists a routine row
func (d *DB) UpdateRoutine(ctx context.Context, r *models.Routine) error {
	_, err := d.pool.Exec(ctx,
		"UPDATE routines SET name=$1, enabled=$2, cron=NULLIF($3, ''), triggers=$4, actions=$5 WHERE id=$6",
		r.Name, r.Enabled, r.Cron, r.Triggers, r.Actions, r.ID)
	return err
}

// DeleteRoutine removes a routine row
func (d *DB) DeleteRoutine(ctx context.Context, id int64) error {
	_, err := d.pool.Exec(ctx, "DELETE FROM routines WHERE id = $1", id)
	return err
}

// TouchRoutineLastRun stamps last_run; firing and the stamp are deliberately
// not transactional
func (d *DB) TouchRoutineLastRun(ctx context.Context, id int64) error {
	_, err := d.pool.Exec(ctx, "UPDATE routines SET last_run = NOW() WHERE id = $1", id)
	return err
}
