package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/logger"
	"github.com/luizmoretti/erp-backend/pkg/testutil"
)

func newMock(t *testing.T) (*testutil.MockDB, *database.DB) {
	t.Helper()
	mock := testutil.NewMockDB(t)
	t.Cleanup(func() { mock.Close() })
	return mock, database.Wrap(mock.DB, logger.Nop())
}

var payrollCols = []string{
	"id", "company_id", "employee_id", "register_id", "period_start", "period_end",
	"days_worked", "hours_worked", "amount", "status", "payment_method", "payment_reference", "paid_at",
	"created_at", "updated_at", "created_by", "updated_by",
}

// ============================================================================
// PAYROLLS
// ============================================================================

func TestPayrollRepository_CreatePending(t *testing.T) {
	ctx := context.Background()

	t.Run("created", func(t *testing.T) {
		mock, db := newMock(t)
		repo := repository.NewPayrollRepository(db)
		now := time.Now()

		mock.ExpectQuery("INSERT INTO payrolls").
			WithArgs(testutil.AnyUUID{}, "company-1", "emp-1", nil, "2026-03-02", "2026-03-02",
				1, "8", "200", "pending", nil).
			WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

		p := &repository.Payroll{
			CompanyID:   "company-1",
			EmployeeID:  "emp-1",
			PeriodStart: repository.NewDate(2026, time.March, 2),
			PeriodEnd:   repository.NewDate(2026, time.March, 2),
			DaysWorked:  1,
			HoursWorked: testutil.Dec("8"),
			Amount:      testutil.Dec("200"),
		}
		created, err := repo.CreatePending(ctx, p)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, repository.PayrollStatusPending, p.Status)
		mock.ExpectationsWereMet(t)
	})

	t.Run("lost race", func(t *testing.T) {
		mock, db := newMock(t)
		repo := repository.NewPayrollRepository(db)

		mock.ExpectQuery("ON CONFLICT DO NOTHING").
			WillReturnRows(testutil.MockRows("created_at", "updated_at"))

		created, err := repo.CreatePending(ctx, &repository.Payroll{CompanyID: "c", EmployeeID: "e"})
		require.NoError(t, err)
		assert.False(t, created)
		mock.ExpectationsWereMet(t)
	})
}

func TestPayrollRepository_GetPendingForUpdate_None(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewPayrollRepository(db)

	mock.ExpectQuery("status = 'pending' FOR UPDATE").
		WithArgs("emp-1").
		WillReturnError(sql.ErrNoRows)

	p, err := repo.GetPendingForUpdate(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	mock.ExpectationsWereMet(t)
}

func TestPayrollRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock, db := newMock(t)
		repo := repository.NewPayrollRepository(db)
		now := time.Now()

		mock.ExpectQuery("FROM payrolls WHERE id = $1").
			WithArgs("pay-1").
			WillReturnRows(testutil.MockRows(payrollCols...).AddRow(
				"pay-1", "company-1", "emp-1", "reg-1", "2026-03-02", "2026-03-03",
				2, "16.00", "400.00", "pending", nil, nil, nil,
				now, now, nil, nil,
			))

		p, err := repo.GetByID(ctx, "pay-1")
		require.NoError(t, err)
		assert.Equal(t, "reg-1", *p.RegisterID)
		assert.Equal(t, "2026-03-03", p.PeriodEnd.String())
		testutil.AssertDecimal(t, "16", p.HoursWorked)
		testutil.AssertDecimal(t, "400", p.Amount)
		mock.ExpectationsWereMet(t)
	})

	t.Run("not found", func(t *testing.T) {
		mock, db := newMock(t)
		repo := repository.NewPayrollRepository(db)

		mock.ExpectQuery("FROM payrolls WHERE id = $1").WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, errors.ErrNotFound)
		mock.ExpectationsWereMet(t)
	})
}

func TestPayrollRepository_MarkPaid_NotPending(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewPayrollRepository(db)

	mock.ExpectQuery("UPDATE payrolls SET").
		WillReturnRows(testutil.MockRows("updated_at"))

	method := "cash"
	now := time.Now()
	err := repo.MarkPaid(context.Background(), &repository.Payroll{
		ID: "pay-1", PaymentMethod: &method, PaidAt: &now,
	})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	mock.ExpectationsWereMet(t)
}

func TestPayrollRepository_UpdateAccrual_NotPending(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewPayrollRepository(db)

	mock.ExpectQuery("WHERE id = $1 AND status = 'pending'").
		WillReturnRows(testutil.MockRows("updated_at"))

	err := repo.UpdateAccrual(context.Background(), &repository.Payroll{ID: "pay-1"})
	assert.ErrorIs(t, err, errors.ErrConflict)
	mock.ExpectationsWereMet(t)
}

func TestPayrollRepository_List_Filters(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewPayrollRepository(db)

	mock.ExpectQuery("WHERE company_id = $1 AND employee_id = $2 AND status = $3 ORDER BY period_start DESC, created_at DESC LIMIT $4 OFFSET $5").
		WithArgs("company-1", "emp-1", "paid", 100, 0).
		WillReturnRows(testutil.MockRows(payrollCols...))

	payrolls, err := repo.List(context.Background(), repository.PayrollFilter{
		CompanyID:  "company-1",
		EmployeeID: "emp-1",
		Status:     repository.PayrollStatusPaid,
	})
	require.NoError(t, err)
	assert.Empty(t, payrolls)
	mock.ExpectationsWereMet(t)
}

func TestPayrollRepository_LastPaidAt(t *testing.T) {
	ctx := context.Background()
	query := "SELECT MAX(paid_at) FROM payrolls WHERE employee_id = $1 AND status = 'paid'"

	t.Run("latest payment", func(t *testing.T) {
		mock, db := newMock(t)
		repo := repository.NewPayrollRepository(db)
		paidAt := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

		mock.ExpectQuery(query).
			WithArgs("emp-1").
			WillReturnRows(testutil.MockRows("max").AddRow(paidAt))

		got, err := repo.LastPaidAt(ctx, "emp-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, paidAt.Equal(*got))
		mock.ExpectationsWereMet(t)
	})

	t.Run("never paid", func(t *testing.T) {
		mock, db := newMock(t)
		repo := repository.NewPayrollRepository(db)

		mock.ExpectQuery(query).
			WithArgs("emp-1").
			WillReturnRows(testutil.MockRows("max").AddRow(nil))

		got, err := repo.LastPaidAt(ctx, "emp-1")
		require.NoError(t, err)
		assert.Nil(t, got)
		mock.ExpectationsWereMet(t)
	})
}

func TestPayrollRepository_UpsertHistory_Accumulates(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewPayrollRepository(db)
	now := time.Now()

	mock.ExpectQuery("amount_paid = payroll_histories.amount_paid + EXCLUDED.amount_paid").
		WillReturnRows(testutil.MockRows(
			"id", "employee_id", "register_id", "payroll_id", "amount_paid", "payment_date", "created_at", "updated_at",
		).AddRow("hist-1", "emp-1", "reg-1", "pay-1", "300.00", "2026-03-10", now, now))

	h := &repository.PayrollHistory{
		EmployeeID:  "emp-1",
		PayrollID:   "pay-1",
		AmountPaid:  testutil.Dec("100"),
		PaymentDate: repository.NewDate(2026, time.March, 10),
	}
	require.NoError(t, repo.UpsertHistory(context.Background(), h))
	assert.Equal(t, "hist-1", h.ID)
	testutil.AssertDecimal(t, "300", h.AmountPaid)
	mock.ExpectationsWereMet(t)
}

// ============================================================================
// ATTENDANCE
// ============================================================================

func TestAttendanceRepository_GetRegisterByAccessCode_NotFound(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewAttendanceRepository(db)

	mock.ExpectQuery("WHERE access_code = $1 FOR UPDATE").
		WithArgs(123456).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetRegisterByAccessCode(context.Background(), 123456)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	mock.ExpectationsWereMet(t)
}

func TestAttendanceRepository_UpsertTimeTracking(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewAttendanceRepository(db)

	regID := "reg-1"
	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := in.Add(8 * time.Hour)
	now := time.Now()

	mock.ExpectQuery("ON CONFLICT (register_id, employee_id, clock_in)").
		WithArgs(testutil.AnyUUID{}, regID, "emp-1", in, out).
		WillReturnRows(testutil.MockRows(
			"id", "register_id", "employee_id", "clock_in", "clock_out", "created_at", "updated_at",
		).AddRow("tt-existing", regID, "emp-1", in, out, now, now))

	tt := &repository.TimeTracking{RegisterID: &regID, EmployeeID: "emp-1", ClockIn: in, ClockOut: &out}
	require.NoError(t, repo.UpsertTimeTracking(context.Background(), tt))
	assert.Equal(t, "tt-existing", tt.ID, "an existing natural key keeps its row")
	assert.Equal(t, 8*time.Hour, tt.Duration())
	mock.ExpectationsWereMet(t)
}

func TestAttendanceRepository_CloseTimeTracking_AlreadyClosed(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewAttendanceRepository(db)

	mock.ExpectQuery("WHERE id = $1 AND clock_out IS NULL").
		WillReturnRows(testutil.MockRows("updated_at"))

	tt := &repository.TimeTracking{ID: "tt-1"}
	err := repo.CloseTimeTracking(context.Background(), tt, time.Now())
	assert.ErrorIs(t, err, errors.ErrConflict)
	assert.Nil(t, tt.ClockOut)
	mock.ExpectationsWereMet(t)
}

func TestAttendanceRepository_GetDaysTracking(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewAttendanceRepository(db)
	now := time.Now()

	mock.ExpectQuery("FROM days_trackings").
		WithArgs("reg-1", "emp-1", "2026-03-02").
		WillReturnRows(testutil.MockRows(
			"id", "register_id", "employee_id", "date", "clock_in", "clock_out", "created_at", "updated_at",
		).AddRow("dt-1", "reg-1", "emp-1", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), []byte("08:00:00"), nil, now, now))

	d, err := repo.GetDaysTracking(context.Background(), "reg-1", "emp-1", repository.NewDate(2026, time.March, 2))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "08:00:00", d.ClockIn.String())
	assert.False(t, d.Closed())
	mock.ExpectationsWereMet(t)
}

// ============================================================================
// EMPLOYEES
// ============================================================================

func TestEmployeeRepository_GetByID_NotFound(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewEmployeeRepository(db)

	mock.ExpectQuery("FROM employees WHERE id = $1").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	mock.ExpectationsWereMet(t)
}

func TestEmployeeRepository_Deactivate(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewEmployeeRepository(db)

	mock.ExpectExec("UPDATE employees SET active = FALSE").
		WithArgs("emp-1").
		WillReturnResult(testutil.Result(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "emp-1"))
	mock.ExpectationsWereMet(t)
}

func TestEmployeeRepository_Upsert_Error(t *testing.T) {
	mock, db := newMock(t)
	repo := repository.NewEmployeeRepository(db)

	mock.ExpectQuery("INSERT INTO employees").WillReturnError(sqlmock.ErrCancelled)

	err := repo.Upsert(context.Background(), &repository.Employee{ID: "emp-1"})
	assert.ErrorIs(t, err, sqlmock.ErrCancelled)
	mock.ExpectationsWereMet(t)
}
