package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/errors"
)

// EmployeeRepository maintains the employee read model synced from HR
type EmployeeRepository struct {
	db *database.DB
}

// NewEmployeeRepository creates a new employee repository
func NewEmployeeRepository(db *database.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// GetByID gets an employee by ID
func (r *EmployeeRepository) GetByID(ctx context.Context, id string) (*Employee, error) {
	var e Employee
	query := `
		SELECT id, company_id, first_name, last_name, payment_type, rate, active, created_at, updated_at
		FROM employees WHERE id = $1
	`
	if err := r.db.Querier(ctx).GetContext(ctx, &e, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("employee")
		}
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &e, nil
}

// Upsert inserts or refreshes an employee and reactivates it
func (r *EmployeeRepository) Upsert(ctx context.Context, e *Employee) error {
	query := `
		INSERT INTO employees (id, company_id, first_name, last_name, payment_type, rate, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			payment_type = EXCLUDED.payment_type,
			rate = EXCLUDED.rate,
			active = TRUE,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		e.ID, e.CompanyID, e.FirstName, e.LastName, e.PaymentType, e.Rate,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert employee: %w", err)
	}
	e.Active = true
	return nil
}

// Deactivate marks an employee inactive. History stays readable.
func (r *EmployeeRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE employees SET active = FALSE, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to deactivate employee: %w", err)
	}
	return nil
}
