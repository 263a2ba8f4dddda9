package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// EmployeeFixture represents a row of the employee read model
type EmployeeFixture struct {
	ID          string
	CompanyID   string
	FirstName   string
	LastName    string
	PaymentType string
	Rate        decimal.Decimal
}

// FixtureFactory inserts reference rows for integration tests
type FixtureFactory struct {
	db      *sqlx.DB
	counter int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory(db *sqlx.DB) *FixtureFactory {
	return &FixtureFactory{db: db}
}

// Employee builds an employee fixture without inserting it.
func (f *FixtureFactory) Employee(companyID, paymentType, rate string) EmployeeFixture {
	f.counter++
	return EmployeeFixture{
		ID:          uuid.New().String(),
		CompanyID:   companyID,
		FirstName:   "Test",
		LastName:    fmt.Sprintf("Employee %d", f.counter),
		PaymentType: paymentType,
		Rate:        decimal.RequireFromString(rate),
	}
}

// InsertEmployee writes the fixture into the employees read model.
func (f *FixtureFactory) InsertEmployee(t *testing.T, ctx context.Context, e EmployeeFixture) EmployeeFixture {
	t.Helper()
	_, err := f.db.ExecContext(ctx, `
		INSERT INTO employees (id, company_id, first_name, last_name, payment_type, rate)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.CompanyID, e.FirstName, e.LastName, e.PaymentType, e.Rate,
	)
	if err != nil {
		t.Fatalf("failed to insert employee fixture: %v", err)
	}
	return e
}
