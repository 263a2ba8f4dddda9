package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/errors"
)

const payrollColumns = `id, company_id, employee_id, register_id, period_start, period_end,
	days_worked, hours_worked, amount, status, payment_method, payment_reference, paid_at,
	created_at, updated_at, created_by, updated_by`

const historyColumns = `id, employee_id, register_id, payroll_id, amount_paid, payment_date, created_at, updated_at`

// PayrollRepository persists payrolls and their payment history
type PayrollRepository struct {
	db *database.DB
}

// NewPayrollRepository creates a new payroll repository
func NewPayrollRepository(db *database.DB) *PayrollRepository {
	return &PayrollRepository{db: db}
}

// ============================================================================
// PAYROLLS
// ============================================================================

// CreatePending inserts a pending payroll unless the employee already has
// one. It reports whether the row was created.
func (r *PayrollRepository) CreatePending(ctx context.Context, p *Payroll) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = PayrollStatusPending

	query := `
		INSERT INTO payrolls (
			id, company_id, employee_id, register_id, period_start, period_end,
			days_worked, hours_worked, amount, status, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		p.ID, p.CompanyID, p.EmployeeID, p.RegisterID, p.PeriodStart, p.PeriodEnd,
		p.DaysWorked, p.HoursWorked, p.Amount, p.Status, p.CreatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create payroll: %w", err)
	}
	p.UpdatedBy = p.CreatedBy
	return true, nil
}

// GetPendingForUpdate returns the locked pending payroll of an employee, or nil
func (r *PayrollRepository) GetPendingForUpdate(ctx context.Context, employeeID string) (*Payroll, error) {
	var p Payroll
	query := `SELECT ` + payrollColumns + ` FROM payrolls WHERE employee_id = $1 AND status = 'pending' FOR UPDATE`
	if err := r.db.Querier(ctx).GetContext(ctx, &p, query, employeeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending payroll: %w", err)
	}
	return &p, nil
}

// GetByID gets a payroll by ID
func (r *PayrollRepository) GetByID(ctx context.Context, id string) (*Payroll, error) {
	return r.get(ctx, `SELECT `+payrollColumns+` FROM payrolls WHERE id = $1`, id)
}

// GetByIDForUpdate gets a payroll by ID and locks it
func (r *PayrollRepository) GetByIDForUpdate(ctx context.Context, id string) (*Payroll, error) {
	return r.get(ctx, `SELECT `+payrollColumns+` FROM payrolls WHERE id = $1 FOR UPDATE`, id)
}

func (r *PayrollRepository) get(ctx context.Context, query, id string) (*Payroll, error) {
	var p Payroll
	if err := r.db.Querier(ctx).GetContext(ctx, &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("payroll")
		}
		return nil, fmt.Errorf("failed to get payroll: %w", err)
	}
	return &p, nil
}

// UpdateAccrual stores recomputed period bounds and totals of a pending payroll
func (r *PayrollRepository) UpdateAccrual(ctx context.Context, p *Payroll) error {
	query := `
		UPDATE payrolls SET
			period_start = $2, period_end = $3, days_worked = $4, hours_worked = $5, amount = $6,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		p.ID, p.PeriodStart, p.PeriodEnd, p.DaysWorked, p.HoursWorked, p.Amount,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.Conflict("payroll is no longer pending")
		}
		return fmt.Errorf("failed to update payroll accrual: %w", err)
	}
	return nil
}

// LastPaidAt returns when the employee was last paid, or nil if never
func (r *PayrollRepository) LastPaidAt(ctx context.Context, employeeID string) (*time.Time, error) {
	var paidAt sql.NullTime
	query := `SELECT MAX(paid_at) FROM payrolls WHERE employee_id = $1 AND status = 'paid'`
	if err := r.db.Querier(ctx).GetContext(ctx, &paidAt, query, employeeID); err != nil {
		return nil, fmt.Errorf("failed to get last payment: %w", err)
	}
	if !paidAt.Valid {
		return nil, nil
	}
	return &paidAt.Time, nil
}

// MarkPaid flips a pending payroll to paid with its payment details
func (r *PayrollRepository) MarkPaid(ctx context.Context, p *Payroll) error {
	query := `
		UPDATE payrolls SET
			status = 'paid', payment_method = $2, payment_reference = $3, paid_at = $4,
			updated_by = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		p.ID, p.PaymentMethod, p.PaymentReference, p.PaidAt, p.UpdatedBy,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.InvalidTransition(string(PayrollStatusPaid), string(PayrollStatusPaid))
		}
		return fmt.Errorf("failed to mark payroll paid: %w", err)
	}
	p.Status = PayrollStatusPaid
	return nil
}

// List lists the payrolls of a company, newest period first
func (r *PayrollRepository) List(ctx context.Context, f PayrollFilter) ([]*Payroll, error) {
	where := []string{"company_id = $1"}
	args := []interface{}{f.CompanyID}

	if f.EmployeeID != "" {
		args = append(args, f.EmployeeID)
		where = append(where, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	query := fmt.Sprintf(`SELECT %s FROM payrolls WHERE %s ORDER BY period_start DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		payrollColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	payrolls := []*Payroll{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &payrolls, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list payrolls: %w", err)
	}
	return payrolls, nil
}

// Report aggregates, per employee, the company's payrolls whose period
// overlaps [start, end].
func (r *PayrollRepository) Report(ctx context.Context, companyID string, start, end Date) ([]*PayrollReportRow, error) {
	query := `
		SELECT
			p.employee_id,
			TRIM(e.first_name || ' ' || e.last_name) AS employee_name,
			e.payment_type,
			COUNT(*) AS payrolls,
			COALESCE(SUM(p.days_worked), 0) AS days_worked,
			COALESCE(SUM(p.hours_worked), 0) AS hours_worked,
			COALESCE(SUM(p.amount) FILTER (WHERE p.status = 'paid'), 0) AS amount_paid,
			COALESCE(SUM(p.amount) FILTER (WHERE p.status = 'pending'), 0) AS amount_pending
		FROM payrolls p
		JOIN employees e ON e.id = p.employee_id
		WHERE p.company_id = $1 AND p.period_start <= $3 AND p.period_end >= $2
		GROUP BY p.employee_id, e.first_name, e.last_name, e.payment_type
		ORDER BY employee_name
	`
	rows := []*PayrollReportRow{}
	if err := r.db.Querier(ctx).SelectContext(ctx, &rows, query, companyID, start, end); err != nil {
		return nil, fmt.Errorf("failed to build payroll report: %w", err)
	}
	return rows, nil
}

// ============================================================================
// HISTORY
// ============================================================================

// UpsertHistory records a payment. A repeated payment of the same payroll
// adds to amount_paid and refreshes payment_date.
func (r *PayrollRepository) UpsertHistory(ctx context.Context, h *PayrollHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}

	query := `
		INSERT INTO payroll_histories (id, employee_id, register_id, payroll_id, amount_paid, payment_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payroll_id) DO UPDATE SET
			amount_paid = payroll_histories.amount_paid + EXCLUDED.amount_paid,
			payment_date = EXCLUDED.payment_date,
			updated_at = NOW()
		RETURNING ` + historyColumns
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		h.ID, h.EmployeeID, h.RegisterID, h.PayrollID, h.AmountPaid, h.PaymentDate,
	).StructScan(h)
	if err != nil {
		return fmt.Errorf("failed to upsert payroll history: %w", err)
	}
	return nil
}

// GetHistory returns the payment history of a payroll
func (r *PayrollRepository) GetHistory(ctx context.Context, payrollID string) (*PayrollHistory, error) {
	var h PayrollHistory
	query := `SELECT ` + historyColumns + ` FROM payroll_histories WHERE payroll_id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &h, query, payrollID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("payroll history")
		}
		return nil, fmt.Errorf("failed to get payroll history: %w", err)
	}
	return &h, nil
}
