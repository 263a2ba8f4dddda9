package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/errors"
)

const registerColumns = `id, company_id, employee_id, access_code, created_at, updated_at, created_by, updated_by`

const timeTrackingColumns = `id, register_id, employee_id, clock_in, clock_out, created_at, updated_at`

const daysTrackingColumns = `id, register_id, employee_id, date, clock_in, clock_out, created_at, updated_at`

// AttendanceRepository persists registers and their time entries
type AttendanceRepository struct {
	db *database.DB
}

// NewAttendanceRepository creates a new attendance repository
func NewAttendanceRepository(db *database.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// ============================================================================
// REGISTERS
// ============================================================================

// CreateRegister inserts a register
func (r *AttendanceRepository) CreateRegister(ctx context.Context, reg *AttendanceRegister) error {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}

	query := `
		INSERT INTO attendance_registers (id, company_id, employee_id, access_code, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		reg.ID, reg.CompanyID, reg.EmployeeID, reg.AccessCode, reg.CreatedBy,
	).Scan(&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create attendance register: %w", err)
	}
	reg.UpdatedBy = reg.CreatedBy
	return nil
}

// GetRegister gets a register by ID
func (r *AttendanceRepository) GetRegister(ctx context.Context, id string) (*AttendanceRegister, error) {
	var reg AttendanceRegister
	query := `SELECT ` + registerColumns + ` FROM attendance_registers WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &reg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("attendance register")
		}
		return nil, fmt.Errorf("failed to get attendance register: %w", err)
	}
	return &reg, nil
}

// GetRegisterByAccessCode resolves the register of a kiosk code. Inside a
// transaction the row stays locked, serializing concurrent presses.
func (r *AttendanceRepository) GetRegisterByAccessCode(ctx context.Context, code int) (*AttendanceRegister, error) {
	var reg AttendanceRegister
	query := `SELECT ` + registerColumns + ` FROM attendance_registers WHERE access_code = $1 FOR UPDATE`
	if err := r.db.Querier(ctx).GetContext(ctx, &reg, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("attendance register")
		}
		return nil, fmt.Errorf("failed to get attendance register by access code: %w", err)
	}
	return &reg, nil
}

// TouchRegister records who last changed the register
func (r *AttendanceRepository) TouchRegister(ctx context.Context, id string, updatedBy *string) error {
	query := `UPDATE attendance_registers SET updated_at = NOW(), updated_by = $2 WHERE id = $1`
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, id, updatedBy); err != nil {
		return fmt.Errorf("failed to touch attendance register: %w", err)
	}
	return nil
}

// ============================================================================
// TIME TRACKINGS
// ============================================================================

// UpsertTimeTracking inserts an entry or, when (register, employee, clock_in)
// already exists, updates its clock_out. The stored row is scanned back.
func (r *AttendanceRepository) UpsertTimeTracking(ctx context.Context, t *TimeTracking) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
		INSERT INTO time_trackings (id, register_id, employee_id, clock_in, clock_out)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (register_id, employee_id, clock_in)
		DO UPDATE SET clock_out = EXCLUDED.clock_out, updated_at = NOW()
		RETURNING ` + timeTrackingColumns
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		t.ID, t.RegisterID, t.EmployeeID, t.ClockIn, t.ClockOut,
	).StructScan(t)
	if err != nil {
		return fmt.Errorf("failed to upsert time tracking: %w", err)
	}
	return nil
}

// CloseTimeTracking sets the clock_out of an open entry
func (r *AttendanceRepository) CloseTimeTracking(ctx context.Context, t *TimeTracking, clockOut time.Time) error {
	query := `
		UPDATE time_trackings SET clock_out = $2, updated_at = NOW()
		WHERE id = $1 AND clock_out IS NULL
		RETURNING updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query, t.ID, clockOut).Scan(&t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.Conflict("time entry is already closed")
		}
		return fmt.Errorf("failed to close time tracking: %w", err)
	}
	t.ClockOut = &clockOut
	return nil
}

// GetOpenTimeTracking returns the latest entry without clock_out, or nil
func (r *AttendanceRepository) GetOpenTimeTracking(ctx context.Context, registerID, employeeID string) (*TimeTracking, error) {
	var t TimeTracking
	query := `
		SELECT ` + timeTrackingColumns + ` FROM time_trackings
		WHERE register_id = $1 AND employee_id = $2 AND clock_out IS NULL
		ORDER BY clock_in DESC
		LIMIT 1
		FOR UPDATE
	`
	if err := r.db.Querier(ctx).GetContext(ctx, &t, query, registerID, employeeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open time tracking: %w", err)
	}
	return &t, nil
}

// ListTimeTrackingsByRegister lists the entries of a register
func (r *AttendanceRepository) ListTimeTrackingsByRegister(ctx context.Context, registerID string) ([]*TimeTracking, error) {
	entries := []*TimeTracking{}
	query := `SELECT ` + timeTrackingColumns + ` FROM time_trackings WHERE register_id = $1 ORDER BY clock_in`
	if err := r.db.Querier(ctx).SelectContext(ctx, &entries, query, registerID); err != nil {
		return nil, fmt.Errorf("failed to list time trackings: %w", err)
	}
	return entries, nil
}

// ListClosedTimeTrackings lists an employee's closed entries whose clock_in
// falls in [from, to).
func (r *AttendanceRepository) ListClosedTimeTrackings(ctx context.Context, employeeID string, from, to time.Time) ([]*TimeTracking, error) {
	entries := []*TimeTracking{}
	query := `
		SELECT ` + timeTrackingColumns + ` FROM time_trackings
		WHERE employee_id = $1 AND clock_out IS NOT NULL AND clock_in >= $2 AND clock_in < $3
		ORDER BY clock_in
	`
	if err := r.db.Querier(ctx).SelectContext(ctx, &entries, query, employeeID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list closed time trackings: %w", err)
	}
	return entries, nil
}

// ============================================================================
// DAYS TRACKINGS
// ============================================================================

// UpsertDaysTracking inserts an entry or, when (register, employee, date)
// already exists, updates its clock_out.
func (r *AttendanceRepository) UpsertDaysTracking(ctx context.Context, d *DaysTracking) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	query := `
		INSERT INTO days_trackings (id, register_id, employee_id, date, clock_in, clock_out)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (register_id, employee_id, date)
		DO UPDATE SET clock_out = EXCLUDED.clock_out, updated_at = NOW()
		RETURNING ` + daysTrackingColumns
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		d.ID, d.RegisterID, d.EmployeeID, d.Date, d.ClockIn, d.ClockOut,
	).StructScan(d)
	if err != nil {
		return fmt.Errorf("failed to upsert days tracking: %w", err)
	}
	return nil
}

// CloseDaysTracking sets the clock_out of a day entry
func (r *AttendanceRepository) CloseDaysTracking(ctx context.Context, d *DaysTracking, clockOut TimeOfDay) error {
	query := `
		UPDATE days_trackings SET clock_out = $2, updated_at = NOW()
		WHERE id = $1 AND clock_out IS NULL
		RETURNING updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query, d.ID, clockOut).Scan(&d.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.Conflict("day entry is already closed")
		}
		return fmt.Errorf("failed to close days tracking: %w", err)
	}
	d.ClockOut = &clockOut
	return nil
}

// GetDaysTracking returns the entry of a date, or nil
func (r *AttendanceRepository) GetDaysTracking(ctx context.Context, registerID, employeeID string, date Date) (*DaysTracking, error) {
	var d DaysTracking
	query := `
		SELECT ` + daysTrackingColumns + ` FROM days_trackings
		WHERE register_id = $1 AND employee_id = $2 AND date = $3
		FOR UPDATE
	`
	if err := r.db.Querier(ctx).GetContext(ctx, &d, query, registerID, employeeID, date); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get days tracking: %w", err)
	}
	return &d, nil
}

// ListDaysTrackingsByRegister lists the entries of a register
func (r *AttendanceRepository) ListDaysTrackingsByRegister(ctx context.Context, registerID string) ([]*DaysTracking, error) {
	entries := []*DaysTracking{}
	query := `SELECT ` + daysTrackingColumns + ` FROM days_trackings WHERE register_id = $1 ORDER BY date`
	if err := r.db.Querier(ctx).SelectContext(ctx, &entries, query, registerID); err != nil {
		return nil, fmt.Errorf("failed to list days trackings: %w", err)
	}
	return entries, nil
}

// ListClosedDaysTrackings lists an employee's closed day entries in [from, to]
func (r *AttendanceRepository) ListClosedDaysTrackings(ctx context.Context, employeeID string, from, to Date) ([]*DaysTracking, error) {
	entries := []*DaysTracking{}
	query := `
		SELECT ` + daysTrackingColumns + ` FROM days_trackings
		WHERE employee_id = $1 AND clock_out IS NOT NULL AND date BETWEEN $2 AND $3
		ORDER BY date
	`
	if err := r.db.Querier(ctx).SelectContext(ctx, &entries, query, employeeID, from, to); err != nil {
		return nil, fmt.Errorf("failed to list closed days trackings: %w", err)
	}
	return entries, nil
}
