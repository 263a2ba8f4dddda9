package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/luizmoretti/erp-backend/internal/attendance/attendancetest"
	"github.com/luizmoretti/erp-backend/internal/attendance/events"
	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/internal/attendance/service"
	"github.com/luizmoretti/erp-backend/internal/attendance/validation"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/logger"
	"github.com/luizmoretti/erp-backend/pkg/testutil"
)

// fixture wires the services over an in-memory store with a controllable clock
type fixture struct {
	store      *attendancetest.Store
	sender     *testutil.MockPublisher
	accrual    *service.AccrualEngine
	attendance *service.AttendanceService
	payroll    *service.PayrollService
	actor      *actor.Actor
	clock      time.Time
	codes      []int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:  attendancetest.NewStore(),
		sender: testutil.NewMockPublisher(),
		clock:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		actor: &actor.Actor{
			ID:        uuid.New().String(),
			FirstName: "Paula",
			LastName:  "Manager",
			CompanyID: uuid.New().String(),
		},
	}
	f.store.Now = f.now

	stores := service.Stores{
		Tx:         f.store,
		Attendance: f.store,
		Payrolls:   f.store.Payrolls(),
		Employees:  f.store,
	}
	log := logger.Nop()
	publisher := events.NewAttendanceEventPublisher(f.sender, log)

	f.accrual = service.NewAccrualEngine(stores, publisher, time.UTC, log)
	f.attendance = service.NewAttendanceService(stores, f.accrual, publisher, service.AttendanceServiceConfig{
		Location:           time.UTC,
		AccessCodeAttempts: 3,
		Now:                f.now,
		CodeSource:         f.nextCode,
	}, log)
	f.payroll = service.NewPayrollService(stores, publisher, service.PayrollServiceConfig{
		Location:     time.UTC,
		MaxBatchSize: 5,
		Now:          f.now,
	}, log)
	return f
}

func (f *fixture) now() time.Time {
	return f.clock
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) nextCode() (int, error) {
	if len(f.codes) == 0 {
		return 654321, nil
	}
	code := f.codes[0]
	f.codes = f.codes[1:]
	return code, nil
}

func (f *fixture) employee(paymentType repository.PaymentType, rate string) *repository.Employee {
	return f.store.AddEmployee(f.actor.CompanyID, paymentType, rate)
}

// pending returns the only pending payroll of an employee
func (f *fixture) pending(t *testing.T, employeeID string) repository.Payroll {
	t.Helper()
	pending := f.store.Pending(employeeID)
	require.Len(t, pending, 1, "exactly one pending payroll per employee")
	return pending[0]
}

func hourly(in, out string) validation.WorkEntry {
	return validation.WorkEntry{ClockIn: in, ClockOut: out}
}

func daily(date, in, out string) validation.WorkEntry {
	return validation.WorkEntry{Date: date, ClockIn: in, ClockOut: out}
}

func (f *fixture) create(t *testing.T, employeeID string, entries ...validation.WorkEntry) *service.RegisterDetail {
	t.Helper()
	detail, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
		EmployeeID: employeeID,
		WorkData:   entries,
	})
	require.NoError(t, err)
	return detail
}
