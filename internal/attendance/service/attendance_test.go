package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/internal/attendance/service"
	"github.com/luizmoretti/erp-backend/internal/attendance/validation"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/messaging"
	"github.com/luizmoretti/erp-backend/pkg/testutil"
)

func TestCreateAttendance(t *testing.T) {
	t.Run("hourly entries are attached to the new register", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "20")

		detail := f.create(t, emp.ID,
			hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z"),
			hourly("2026-03-02T13:00:00Z", "2026-03-02T17:00:00Z"),
		)

		assert.Equal(t, emp.ID, detail.EmployeeID)
		assert.Equal(t, emp.CompanyID, detail.CompanyID)
		assert.Equal(t, "Test Employee", detail.EmployeeName)
		require.Len(t, detail.TimeTrackings, 2)
		for _, tt := range detail.TimeTrackings {
			require.NotNil(t, tt.RegisterID)
			assert.Equal(t, detail.ID, *tt.RegisterID)
			assert.Equal(t, emp.ID, tt.EmployeeID)
		}
		require.NotNil(t, detail.CreatedBy)
		assert.Equal(t, f.actor.ID, *detail.CreatedBy)
	})

	t.Run("missing employee", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
			WorkData: []validation.WorkEntry{hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z")},
		})

		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("unknown employee", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
			EmployeeID: uuid.New().String(),
			WorkData:   []validation.WorkEntry{hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z")},
		})

		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("inactive employee", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "20")
		require.NoError(t, f.store.Deactivate(context.Background(), emp.ID))

		_, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
			EmployeeID: emp.ID,
			WorkData:   []validation.WorkEntry{hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z")},
		})

		assert.ErrorIs(t, err, errors.ErrValidation)
		assert.Empty(t, f.store.Registers(emp.ID))
	})

	t.Run("inactive employee of another company is denied", func(t *testing.T) {
		f := newFixture(t)
		other := f.store.AddEmployee(uuid.New().String(), repository.PaymentTypeHour, "20")
		require.NoError(t, f.store.Deactivate(context.Background(), other.ID))

		_, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
			EmployeeID: other.ID,
			WorkData:   []validation.WorkEntry{hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z")},
		})

		assert.ErrorIs(t, err, errors.ErrAccessDenied)
		assert.NotErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("employee of another company", func(t *testing.T) {
		f := newFixture(t)
		other := f.store.AddEmployee(uuid.New().String(), repository.PaymentTypeHour, "20")

		_, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
			EmployeeID: other.ID,
			WorkData:   []validation.WorkEntry{hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z")},
		})

		assert.ErrorIs(t, err, errors.ErrForbidden)
		assert.Empty(t, f.store.Registers(other.ID))
	})

	t.Run("invalid entry saves nothing", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "20")

		_, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
			EmployeeID: emp.ID,
			WorkData: []validation.WorkEntry{
				hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z"),
				hourly("2026-03-02T18:00:00Z", "2026-03-02T17:00:00Z"),
			},
		})

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "must be after clock_in", appErr.Details["work_data[1].clock_out"])
		assert.Empty(t, f.store.Registers(emp.ID))
		assert.Empty(t, f.store.Pending(emp.ID))
	})

	t.Run("store failure rolls back the register", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeDay, "100")
		f.store.Fail("UpsertDaysTracking", &pq.Error{Code: "23514", Constraint: "days_trackings_clock_order"})

		_, err := f.attendance.CreateAttendance(context.Background(), f.actor, service.AttendanceInput{
			EmployeeID: emp.ID,
			WorkData:   []validation.WorkEntry{daily("2026-03-02", "08:00", "17:00")},
		})

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "must be after clock_in", appErr.Details["clock_out"])
		assert.Empty(t, f.store.Registers(emp.ID))
	})
}

func TestUpdateAttendance(t *testing.T) {
	t.Run("replaying the same entries is idempotent", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "25")
		entries := []validation.WorkEntry{
			hourly("2026-03-02T09:00:00Z", "2026-03-02T17:00:00Z"),
			hourly("2026-03-03T09:00:00Z", "2026-03-03T17:00:00Z"),
		}
		reg := f.create(t, emp.ID, entries...)
		before := f.pending(t, emp.ID)

		in := service.AttendanceInput{WorkData: entries}
		for i := 0; i < 2; i++ {
			detail, err := f.attendance.UpdateAttendance(context.Background(), f.actor, reg.ID, in, false)
			require.NoError(t, err)
			assert.Len(t, detail.TimeTrackings, 2)
		}

		after := f.pending(t, emp.ID)
		assert.Equal(t, before.ID, after.ID)
		testutil.AssertDecimal(t, "16", after.HoursWorked)
		assert.Equal(t, 2, after.DaysWorked)
		testutil.AssertDecimal(t, "400", after.Amount)
	})

	t.Run("new clock_out for an existing clock_in replaces it", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "10")
		reg := f.create(t, emp.ID, hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z"))

		detail, err := f.attendance.UpdateAttendance(context.Background(), f.actor, reg.ID, service.AttendanceInput{
			WorkData: []validation.WorkEntry{hourly("2026-03-02T09:00:00Z", "2026-03-02T15:00:00Z")},
		}, false)
		require.NoError(t, err)

		require.Len(t, detail.TimeTrackings, 1)
		p := f.pending(t, emp.ID)
		testutil.AssertDecimal(t, "6", p.HoursWorked)
		testutil.AssertDecimal(t, "60", p.Amount)
	})

	t.Run("daily entries upsert by date", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeDay, "100")
		reg := f.create(t, emp.ID, daily("2026-03-02", "08:00", "17:00"))

		detail, err := f.attendance.UpdateAttendance(context.Background(), f.actor, reg.ID, service.AttendanceInput{
			EmployeeID: emp.ID,
			WorkData: []validation.WorkEntry{
				daily("2026-03-02", "09:00", "17:00"),
				daily("2026-03-03", "08:00", "16:00"),
			},
		}, false)
		require.NoError(t, err)

		require.Len(t, detail.DaysTrackings, 2)
		assert.Equal(t, "09:00:00", detail.DaysTrackings[0].ClockIn.String())
		p := f.pending(t, emp.ID)
		assert.Equal(t, 2, p.DaysWorked)
		testutil.AssertDecimal(t, "200", p.Amount)
	})

	t.Run("partial update without work_data is a no-op", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "10")
		reg := f.create(t, emp.ID, hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z"))
		f.sender.Reset()

		detail, err := f.attendance.UpdateAttendance(context.Background(), f.actor, reg.ID, service.AttendanceInput{}, true)
		require.NoError(t, err)

		assert.Len(t, detail.TimeTrackings, 1)
		f.sender.AssertNoEventsPublished(t)
	})

	t.Run("full update requires work_data", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "10")
		reg := f.create(t, emp.ID, hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z"))

		_, err := f.attendance.UpdateAttendance(context.Background(), f.actor, reg.ID, service.AttendanceInput{}, false)

		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("employee must match the register", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "10")
		other := f.employee(repository.PaymentTypeHour, "10")
		reg := f.create(t, emp.ID, hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z"))

		_, err := f.attendance.UpdateAttendance(context.Background(), f.actor, reg.ID, service.AttendanceInput{
			EmployeeID: other.ID,
			WorkData:   []validation.WorkEntry{hourly("2026-03-03T09:00:00Z", "2026-03-03T12:00:00Z")},
		}, false)

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, errors.ErrValidation, appErr.Err)
		assert.Contains(t, appErr.Details, "employee")
		assert.Empty(t, f.store.Pending(other.ID))
	})

	t.Run("register of another company", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "10")
		reg := f.create(t, emp.ID, hourly("2026-03-02T09:00:00Z", "2026-03-02T12:00:00Z"))
		intruder := &actor.Actor{ID: uuid.New().String(), CompanyID: uuid.New().String()}

		_, err := f.attendance.UpdateAttendance(context.Background(), intruder, reg.ID, service.AttendanceInput{
			WorkData: []validation.WorkEntry{hourly("2026-03-03T09:00:00Z", "2026-03-03T12:00:00Z")},
		}, false)

		assert.ErrorIs(t, err, errors.ErrForbidden)
	})

	t.Run("unknown register", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.attendance.UpdateAttendance(context.Background(), f.actor, uuid.New().String(), service.AttendanceInput{}, true)

		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}

func TestClockInOutWithCode(t *testing.T) {
	t.Run("hourly employee alternates clock-in and clock-out", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "15")
		reg, err := f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)
		require.NoError(t, err)

		in, err := f.attendance.ClockInOutWithCode(context.Background(), *reg.AccessCode)
		require.NoError(t, err)
		assert.Equal(t, service.OperationClockIn, in.Operation)
		assert.True(t, in.Success)
		assert.Equal(t, reg.ID, in.RegisterID)
		assert.Empty(t, f.store.Pending(emp.ID), "an open entry accrues nothing")

		f.advance(8 * time.Hour)
		out, err := f.attendance.ClockInOutWithCode(context.Background(), *reg.AccessCode)
		require.NoError(t, err)
		assert.Equal(t, service.OperationClockOut, out.Operation)
		assert.Equal(t, in.EntryID, out.EntryID)

		p := f.pending(t, emp.ID)
		testutil.AssertDecimal(t, "8", p.HoursWorked)
		testutil.AssertDecimal(t, "120", p.Amount)

		f.sender.AssertEventPublished(t, messaging.EventAttendanceClockIn)
		f.sender.AssertEventPublished(t, messaging.EventAttendanceClockOut)
		f.sender.AssertEventPublished(t, messaging.EventPayrollAccrued)

		f.advance(time.Hour)
		again, err := f.attendance.ClockInOutWithCode(context.Background(), *reg.AccessCode)
		require.NoError(t, err)
		assert.Equal(t, service.OperationClockIn, again.Operation)
		assert.NotEqual(t, in.EntryID, again.EntryID)
	})

	t.Run("daily employee clocks once per day", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeDay, "100")
		reg, err := f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)
		require.NoError(t, err)
		code := *reg.AccessCode

		first, err := f.attendance.ClockInOutWithCode(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, service.OperationClockIn, first.Operation)
		assert.True(t, first.Success)

		f.advance(8 * time.Hour)
		second, err := f.attendance.ClockInOutWithCode(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, service.OperationClockOut, second.Operation)
		assert.True(t, second.Success)

		f.advance(time.Hour)
		third, err := f.attendance.ClockInOutWithCode(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, service.OperationNone, third.Operation)
		assert.False(t, third.Success)
		assert.Equal(t, "attendance already fully registered for today", third.Message)

		p := f.pending(t, emp.ID)
		assert.Equal(t, 1, p.DaysWorked)
		testutil.AssertDecimal(t, "100", p.Amount)
		assert.Len(t, f.sender.EventsOfType(messaging.EventPayrollAccrued), 1)
	})

	t.Run("immediate second press clocks out", func(t *testing.T) {
		for _, pt := range []repository.PaymentType{repository.PaymentTypeHour, repository.PaymentTypeDay} {
			t.Run(string(pt), func(t *testing.T) {
				f := newFixture(t)
				emp := f.employee(pt, "100")
				reg, err := f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)
				require.NoError(t, err)

				first, err := f.attendance.ClockInOutWithCode(context.Background(), *reg.AccessCode)
				require.NoError(t, err)
				assert.Equal(t, service.OperationClockIn, first.Operation)

				f.advance(400 * time.Millisecond)
				second, err := f.attendance.ClockInOutWithCode(context.Background(), *reg.AccessCode)
				require.NoError(t, err)
				assert.Equal(t, service.OperationClockOut, second.Operation)
				assert.True(t, second.Success)
				assert.Equal(t, first.EntryID, second.EntryID)

				p := f.pending(t, emp.ID)
				assert.Equal(t, 1, p.DaysWorked)
				testutil.AssertDecimal(t, "0", p.HoursWorked)
			})
		}
	})

	t.Run("next day opens a new entry", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeDay, "100")
		reg, err := f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)
		require.NoError(t, err)

		for _, step := range []time.Duration{0, 8 * time.Hour, 16 * time.Hour, 8 * time.Hour} {
			f.advance(step)
			_, err := f.attendance.ClockInOutWithCode(context.Background(), *reg.AccessCode)
			require.NoError(t, err)
		}

		p := f.pending(t, emp.ID)
		assert.Equal(t, 2, p.DaysWorked)
		testutil.AssertDecimal(t, "200", p.Amount)
	})

	t.Run("malformed code", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.attendance.ClockInOutWithCode(context.Background(), 12345)

		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.attendance.ClockInOutWithCode(context.Background(), 999999)

		assert.ErrorIs(t, err, errors.ErrNotFound)
		f.sender.AssertNoEventsPublished(t)
	})
}

func TestIssueAccessCode(t *testing.T) {
	t.Run("retries on collision", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "10")
		f.codes = []int{111111, 111111, 222222}

		first, err := f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)
		require.NoError(t, err)
		second, err := f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)
		require.NoError(t, err)

		assert.Equal(t, 111111, *first.AccessCode)
		assert.Equal(t, 222222, *second.AccessCode)
		assert.Len(t, f.store.Registers(emp.ID), 2)
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		f := newFixture(t)
		emp := f.employee(repository.PaymentTypeHour, "10")
		f.codes = []int{333333, 333333, 333333, 333333}

		_, err := f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)
		require.NoError(t, err)
		_, err = f.attendance.IssueAccessCode(context.Background(), f.actor, emp.ID)

		assert.ErrorIs(t, err, errors.ErrConflict)
		assert.Len(t, f.store.Registers(emp.ID), 1)
	})

	t.Run("employee of another company", func(t *testing.T) {
		f := newFixture(t)
		other := f.store.AddEmployee(uuid.New().String(), repository.PaymentTypeHour, "10")

		_, err := f.attendance.IssueAccessCode(context.Background(), f.actor, other.ID)

		assert.ErrorIs(t, err, errors.ErrForbidden)
	})

	t.Run("inactive employee of another company is denied", func(t *testing.T) {
		f := newFixture(t)
		other := f.store.AddEmployee(uuid.New().String(), repository.PaymentTypeHour, "10")
		require.NoError(t, f.store.Deactivate(context.Background(), other.ID))

		_, err := f.attendance.IssueAccessCode(context.Background(), f.actor, other.ID)

		assert.ErrorIs(t, err, errors.ErrAccessDenied)
		assert.Empty(t, f.store.Registers(other.ID))
	})
}

func TestGetAttendance(t *testing.T) {
	f := newFixture(t)
	emp := f.employee(repository.PaymentTypeDay, "80")
	reg := f.create(t, emp.ID, daily("2026-03-02", "08:00", "17:00"))

	detail, err := f.attendance.GetAttendance(context.Background(), f.actor, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PaymentTypeDay, detail.PaymentType)
	assert.Len(t, detail.DaysTrackings, 1)
	assert.Empty(t, detail.TimeTrackings)

	_, err = f.attendance.GetAttendance(context.Background(), &actor.Actor{CompanyID: uuid.New().String()}, reg.ID)
	assert.ErrorIs(t, err, errors.ErrForbidden)
}
