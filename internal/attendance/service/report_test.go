package service_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/internal/attendance/service"
	"github.com/luizmoretti/erp-backend/internal/attendance/validation"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/testutil"
)

func TestReport(t *testing.T) {
	f := newFixture(t)
	hourlyEmp, p := f.accrued(t)
	f.clock = time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	_, err := f.payroll.ProcessPayment(context.Background(), f.actor, p.ID, bankTransfer)
	require.NoError(t, err)
	f.create(t, hourlyEmp.ID, hourly("2026-03-03T09:00:00Z", "2026-03-03T11:00:00Z"))

	dailyEmp := f.employee(repository.PaymentTypeDay, "90")
	f.create(t, dailyEmp.ID, daily("2026-03-04", "08:00", "16:00"))

	// other tenants never show up
	outsider := f.store.AddEmployee(uuid.New().String(), repository.PaymentTypeDay, "500")
	_, err = f.attendance.CreateAttendance(context.Background(),
		&actor.Actor{ID: uuid.New().String(), CompanyID: outsider.CompanyID},
		service.AttendanceInput{
			EmployeeID: outsider.ID,
			WorkData:   []validation.WorkEntry{daily("2026-03-04", "08:00", "16:00")},
		})
	require.NoError(t, err)

	t.Run("aggregates per employee", func(t *testing.T) {
		report, err := f.payroll.Report(context.Background(), f.actor, "2026-03-01", "2026-03-31")
		require.NoError(t, err)

		require.Len(t, report.Employees, 2)
		assert.Equal(t, "2026-03-01", report.StartDate.String())
		testutil.AssertDecimal(t, "200", report.Totals.AmountPaid)
		testutil.AssertDecimal(t, "140", report.Totals.AmountPending)
		assert.Equal(t, 3, report.Totals.Payrolls)
		testutil.AssertDecimal(t, "18", report.Totals.HoursWorked)

		byEmployee := map[string]*repository.PayrollReportRow{}
		for _, row := range report.Employees {
			byEmployee[row.EmployeeID] = row
		}
		require.Contains(t, byEmployee, hourlyEmp.ID)
		assert.Equal(t, 2, byEmployee[hourlyEmp.ID].Payrolls)
		testutil.AssertDecimal(t, "50", byEmployee[hourlyEmp.ID].AmountPending)
		require.Contains(t, byEmployee, dailyEmp.ID)
		testutil.AssertDecimal(t, "90", byEmployee[dailyEmp.ID].AmountPending)
	})

	t.Run("range outside every period", func(t *testing.T) {
		report, err := f.payroll.Report(context.Background(), f.actor, "2025-01-01", "2025-01-31")
		require.NoError(t, err)
		assert.Empty(t, report.Employees)
		assert.True(t, report.Totals.AmountPaid.IsZero())
	})

	t.Run("start after end", func(t *testing.T) {
		_, err := f.payroll.Report(context.Background(), f.actor, "2026-03-31", "2026-03-01")

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Details, "start_date")
	})

	t.Run("range longer than a year", func(t *testing.T) {
		_, err := f.payroll.Report(context.Background(), f.actor, "2025-01-01", "2026-01-02")

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Contains(t, appErr.Details, "end_date")
	})

	t.Run("malformed date", func(t *testing.T) {
		_, err := f.payroll.Report(context.Background(), f.actor, "03/01/2026", "2026-03-31")
		assert.ErrorIs(t, err, errors.ErrValidation)
	})

	t.Run("export renders a workbook", func(t *testing.T) {
		data, report, err := f.payroll.ExportReport(context.Background(), f.actor, "2026-03-01", "2026-03-31")
		require.NoError(t, err)
		require.NotEmpty(t, data)

		wb, err := excelize.OpenReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer wb.Close()

		rows, err := wb.GetRows("Payroll")
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(rows), len(report.Employees)+2)
		assert.Equal(t, "Employee", rows[0][0])
		assert.Equal(t, "Amount pending", rows[0][6])
		assert.Equal(t, "Total", rows[len(report.Employees)+1][0])
		assert.Equal(t, "Test Employee", rows[1][0])
	})
}
