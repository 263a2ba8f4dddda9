package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/testutil"
)

// helper: insert an employee and open a register for it
func setupRegister(t *testing.T, ctx context.Context, paymentType, rate string) (testutil.EmployeeFixture, *repository.AttendanceRegister) {
	t.Helper()
	s := testutil.Require(t, suite)
	s.Reset(t)

	emp := s.Fixtures.InsertEmployee(t, ctx, s.Fixtures.Employee(uuid.New().String(), paymentType, rate))
	reg := &repository.AttendanceRegister{CompanyID: emp.CompanyID, EmployeeID: emp.ID}
	require.NoError(t, repository.NewAttendanceRepository(s.DB).CreateRegister(ctx, reg))
	return emp, reg
}

func TestIntegration_OnePendingPayrollPerEmployee(t *testing.T) {
	ctx := context.Background()
	emp, reg := setupRegister(t, ctx, "hour", "25.00")
	repo := repository.NewPayrollRepository(suite.DB)

	today := repository.NewDate(2026, time.March, 2)
	first := &repository.Payroll{
		CompanyID: emp.CompanyID, EmployeeID: emp.ID, RegisterID: &reg.ID,
		PeriodStart: today, PeriodEnd: today, DaysWorked: 1,
		HoursWorked: testutil.Dec("8"), Amount: testutil.Dec("200"),
	}
	created, err := repo.CreatePending(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	second := &repository.Payroll{
		CompanyID: emp.CompanyID, EmployeeID: emp.ID, RegisterID: &reg.ID,
		PeriodStart: today, PeriodEnd: today,
	}
	created, err = repo.CreatePending(ctx, second)
	require.NoError(t, err)
	assert.False(t, created, "a second pending payroll must not be created")

	pending, err := repo.GetPendingForUpdate(ctx, emp.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, first.ID, pending.ID)

	// once paid, a new pending payroll may be opened
	method := "cash"
	paidAt := time.Now()
	pending.PaymentMethod = &method
	pending.PaidAt = &paidAt
	require.NoError(t, repo.MarkPaid(ctx, pending))

	created, err = repo.CreatePending(ctx, second)
	require.NoError(t, err)
	assert.True(t, created)

	err = repo.MarkPaid(ctx, pending)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

func TestIntegration_TrackingEmployeeMustMatchRegister(t *testing.T) {
	ctx := context.Background()
	emp, reg := setupRegister(t, ctx, "hour", "10.00")
	other := suite.Fixtures.InsertEmployee(t, ctx, suite.Fixtures.Employee(emp.CompanyID, "hour", "10.00"))

	repo := repository.NewAttendanceRepository(suite.DB)
	err := repo.UpsertTimeTracking(ctx, &repository.TimeTracking{
		RegisterID: &reg.ID,
		EmployeeID: other.ID,
		ClockIn:    time.Now().UTC(),
	})
	require.Error(t, err)

	appErr := database.MapPQError(err)
	require.NotNil(t, appErr)
	assert.ErrorIs(t, appErr, errors.ErrValidation)
	assert.Contains(t, appErr.Details, "employee")
}

func TestIntegration_TimeTrackingUpsertByNaturalKey(t *testing.T) {
	ctx := context.Background()
	emp, reg := setupRegister(t, ctx, "hour", "10.00")
	repo := repository.NewAttendanceRepository(suite.DB)

	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := in.Add(8 * time.Hour)
	later := out.Add(30 * time.Minute)

	require.NoError(t, repo.UpsertTimeTracking(ctx, &repository.TimeTracking{RegisterID: &reg.ID, EmployeeID: emp.ID, ClockIn: in, ClockOut: &out}))
	require.NoError(t, repo.UpsertTimeTracking(ctx, &repository.TimeTracking{RegisterID: &reg.ID, EmployeeID: emp.ID, ClockIn: in, ClockOut: &later}))

	entries, err := repo.ListTimeTrackingsByRegister(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ClockOut.Equal(later))

	closed, err := repo.ListClosedTimeTrackings(ctx, emp.ID, in.Add(-time.Hour), in.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, closed, 1)
}

func TestIntegration_DaysTrackingRoundTrip(t *testing.T) {
	ctx := context.Background()
	emp, reg := setupRegister(t, ctx, "day", "100.00")
	repo := repository.NewAttendanceRepository(suite.DB)

	date := repository.NewDate(2026, time.March, 2)
	in := repository.TimeOfDay(8 * time.Hour)
	d := &repository.DaysTracking{RegisterID: &reg.ID, EmployeeID: emp.ID, Date: date, ClockIn: &in}
	require.NoError(t, repo.UpsertDaysTracking(ctx, d))

	got, err := repo.GetDaysTracking(ctx, reg.ID, emp.ID, date)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "08:00:00", got.ClockIn.String())
	assert.True(t, got.Date.Equal(date))

	require.NoError(t, repo.CloseDaysTracking(ctx, got, repository.TimeOfDay(17*time.Hour)))
	assert.ErrorIs(t, repo.CloseDaysTracking(ctx, got, repository.TimeOfDay(18*time.Hour)), errors.ErrConflict)

	closed, err := repo.ListClosedDaysTrackings(ctx, emp.ID, date, date)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, 9*time.Hour, closed[0].Duration())
}

func TestIntegration_HistoryAccumulatesAndReport(t *testing.T) {
	ctx := context.Background()
	emp, reg := setupRegister(t, ctx, "day", "100.00")
	repo := repository.NewPayrollRepository(suite.DB)

	start := repository.NewDate(2026, time.March, 2)
	p := &repository.Payroll{
		CompanyID: emp.CompanyID, EmployeeID: emp.ID, RegisterID: &reg.ID,
		PeriodStart: start, PeriodEnd: start.AddDays(1), DaysWorked: 2,
		HoursWorked: testutil.Dec("16"), Amount: testutil.Dec("200"),
	}
	_, err := repo.CreatePending(ctx, p)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		h := &repository.PayrollHistory{
			EmployeeID: emp.ID, RegisterID: &reg.ID, PayrollID: p.ID,
			AmountPaid: p.Amount, PaymentDate: start.AddDays(5),
		}
		require.NoError(t, repo.UpsertHistory(ctx, h))
	}

	h, err := repo.GetHistory(ctx, p.ID)
	require.NoError(t, err)
	testutil.AssertDecimal(t, "400", h.AmountPaid)

	rows, err := repo.Report(ctx, emp.CompanyID, start, start.AddDays(30))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Payrolls)
	assert.Equal(t, 2, rows[0].DaysWorked)
	testutil.AssertDecimal(t, "200", rows[0].AmountPending)
	testutil.AssertDecimal(t, "0", rows[0].AmountPaid)

	rows, err = repo.Report(ctx, emp.CompanyID, start.AddDays(10), start.AddDays(20))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestIntegration_DuplicateAccessCode(t *testing.T) {
	ctx := context.Background()
	emp, _ := setupRegister(t, ctx, "hour", "10.00")
	repo := repository.NewAttendanceRepository(suite.DB)

	code := 482913
	require.NoError(t, repo.CreateRegister(ctx, &repository.AttendanceRegister{CompanyID: emp.CompanyID, EmployeeID: emp.ID, AccessCode: &code}))
	err := repo.CreateRegister(ctx, &repository.AttendanceRegister{CompanyID: emp.CompanyID, EmployeeID: emp.ID, AccessCode: &code})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err, "attendance_registers_access_code_key"))

	got, err := repo.GetRegisterByAccessCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, emp.ID, got.EmployeeID)
}

func TestIntegration_DaysTrackingSubSecondClockOut(t *testing.T) {
	ctx := context.Background()
	emp, reg := setupRegister(t, ctx, "day", "100.00")
	repo := repository.NewAttendanceRepository(suite.DB)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	date := repository.DateOf(at)
	in := repository.TimeOfDayOf(at)
	d := &repository.DaysTracking{RegisterID: &reg.ID, EmployeeID: emp.ID, Date: date, ClockIn: &in}
	require.NoError(t, repo.UpsertDaysTracking(ctx, d))

	require.NoError(t, repo.CloseDaysTracking(ctx, d, repository.TimeOfDayOf(at.Add(400*time.Millisecond))))

	got, err := repo.GetDaysTracking(ctx, reg.ID, emp.ID, date)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "09:00:00.400000", got.ClockOut.String())
	assert.Equal(t, 400*time.Millisecond, got.Duration())
}

func TestIntegration_LastPaidAt(t *testing.T) {
	ctx := context.Background()
	emp, reg := setupRegister(t, ctx, "hour", "25.00")
	repo := repository.NewPayrollRepository(suite.DB)

	none, err := repo.LastPaidAt(ctx, emp.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	day := repository.NewDate(2026, time.March, 2)
	p := &repository.Payroll{
		CompanyID: emp.CompanyID, EmployeeID: emp.ID, RegisterID: &reg.ID,
		PeriodStart: day, PeriodEnd: day, DaysWorked: 1,
		HoursWorked: testutil.Dec("8"), Amount: testutil.Dec("200"),
	}
	_, err = repo.CreatePending(ctx, p)
	require.NoError(t, err)

	paidAt := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	method := "cash"
	p.PaymentMethod, p.PaidAt = &method, &paidAt
	require.NoError(t, repo.MarkPaid(ctx, p))

	got, err := repo.LastPaidAt(ctx, emp.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, paidAt.Equal(*got))
}
