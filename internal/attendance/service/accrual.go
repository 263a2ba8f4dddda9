package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/logger"
)

var hour = decimal.NewFromInt(int64(time.Hour))

// AccrualEngine keeps the single pending payroll of an employee in line with
// the employee's closed time entries. It runs after the entry was committed.
type AccrualEngine struct {
	stores    Stores
	publisher EventPublisher
	loc       *time.Location
	logger    *logger.Logger
}

// NewAccrualEngine creates a new accrual engine
func NewAccrualEngine(stores Stores, publisher EventPublisher, loc *time.Location, log *logger.Logger) *AccrualEngine {
	if loc == nil {
		loc = time.UTC
	}
	return &AccrualEngine{
		stores:    stores,
		publisher: publisher,
		loc:       loc,
		logger:    log.WithComponent("accrual"),
	}
}

// entryKind selects the rescan rules
type entryKind int

const (
	hourlyEntry entryKind = iota
	dailyEntry
)

// accrualInput describes the saved entry that triggered an accrual
type accrualInput struct {
	kind       entryKind
	employeeID string
	registerID *string
	start      repository.Date
	end        repository.Date
	duration   time.Duration
}

// OnTimeTrackingSaved accrues a saved hourly entry. Open entries are ignored.
// Errors are logged and swallowed so the entry itself is never affected.
func (e *AccrualEngine) OnTimeTrackingSaved(ctx context.Context, t *repository.TimeTracking) {
	if !t.Closed() {
		return
	}
	e.run(ctx, accrualInput{
		kind:       hourlyEntry,
		employeeID: t.EmployeeID,
		registerID: t.RegisterID,
		start:      repository.DateOf(t.ClockIn.In(e.loc)),
		end:        repository.DateOf(t.ClockOut.In(e.loc)),
		duration:   t.Duration(),
	})
}

// OnDaysTrackingSaved accrues a saved daily entry. Open entries are ignored.
// Errors are logged and swallowed so the entry itself is never affected.
func (e *AccrualEngine) OnDaysTrackingSaved(ctx context.Context, d *repository.DaysTracking) {
	if !d.Closed() {
		return
	}
	e.run(ctx, accrualInput{
		kind:       dailyEntry,
		employeeID: d.EmployeeID,
		registerID: d.RegisterID,
		start:      d.Date,
		end:        d.Date,
		duration:   d.Duration(),
	})
}

func (e *AccrualEngine) run(ctx context.Context, in accrualInput) {
	payroll, err := e.accrue(ctx, in)
	if err != nil {
		e.logger.Error().Err(err).
			Str("employee_id", in.employeeID).
			Str("register_id", deref(in.registerID)).
			Str("period_start", in.start.String()).
			Msg("payroll accrual failed")
		return
	}

	e.logger.Debug().
		Str("payroll_id", payroll.ID).
		Str("employee_id", payroll.EmployeeID).
		Int("days_worked", payroll.DaysWorked).
		Str("hours_worked", payroll.HoursWorked.String()).
		Str("amount", payroll.Amount.String()).
		Msg("payroll accrued")
	e.publisher.PublishPayrollAccrued(ctx, payroll)
}

// accrue creates or recomputes the pending payroll for one saved entry in
// its own transaction and returns it.
func (e *AccrualEngine) accrue(ctx context.Context, in accrualInput) (*repository.Payroll, error) {
	var result *repository.Payroll

	err := e.stores.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		emp, err := e.stores.Employees.GetByID(ctx, in.employeeID)
		if err != nil {
			return err
		}

		pending, err := e.stores.Payrolls.GetPendingForUpdate(ctx, emp.ID)
		if err != nil {
			return err
		}

		if pending == nil {
			first := e.firstPayroll(emp, in)
			created, err := e.stores.Payrolls.CreatePending(ctx, first)
			if err != nil {
				return storeError(err)
			}
			if created {
				result = first
				return nil
			}

			// another save opened the pending payroll first
			pending, err = e.stores.Payrolls.GetPendingForUpdate(ctx, emp.ID)
			if err != nil {
				return err
			}
			if pending == nil {
				return errors.Conflict("pending payroll changed concurrently")
			}
		}

		if pending.DaysWorked == 0 {
			// opened empty by a payment, the first entry sets the period
			pending.PeriodStart, pending.PeriodEnd = in.start, in.end
		} else {
			if in.start.Before(pending.PeriodStart) {
				pending.PeriodStart = in.start
			}
			if in.end.After(pending.PeriodEnd) {
				pending.PeriodEnd = in.end
			}
		}

		if err := e.recompute(ctx, emp, pending, in.kind); err != nil {
			return err
		}
		if err := e.stores.Payrolls.UpdateAccrual(ctx, pending); err != nil {
			return storeError(err)
		}
		result = pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// firstPayroll accrues a single entry for an employee without a pending payroll
func (e *AccrualEngine) firstPayroll(emp *repository.Employee, in accrualInput) *repository.Payroll {
	p := &repository.Payroll{
		CompanyID:   emp.CompanyID,
		EmployeeID:  emp.ID,
		RegisterID:  in.registerID,
		PeriodStart: in.start,
		PeriodEnd:   in.end,
		HoursWorked: hoursOf(in.duration),
	}

	switch in.kind {
	case hourlyEntry:
		p.DaysWorked = 1
		if !in.start.Equal(in.end) {
			p.DaysWorked = 2
		}
		p.Amount = p.HoursWorked.Mul(emp.Rate).Round(2)
	case dailyEntry:
		p.DaysWorked = 1
		p.Amount = emp.Rate.Round(2)
	}
	return p
}

// recompute rebuilds totals from every closed entry of the employee within
// the payroll period. Entries that ended by the employee's last payment were
// settled by it and are skipped.
func (e *AccrualEngine) recompute(ctx context.Context, emp *repository.Employee, p *repository.Payroll, kind entryKind) error {
	paidAt, err := e.stores.Payrolls.LastPaidAt(ctx, emp.ID)
	if err != nil {
		return err
	}
	settled := func(end time.Time) bool {
		return paidAt != nil && !end.After(*paidAt)
	}

	var total time.Duration
	dates := map[string]struct{}{}

	switch kind {
	case hourlyEntry:
		entries, err := e.stores.Attendance.ListClosedTimeTrackings(ctx, emp.ID,
			p.PeriodStart.Start(e.loc), p.PeriodEnd.AddDays(1).Start(e.loc))
		if err != nil {
			return err
		}
		for _, t := range entries {
			if settled(*t.ClockOut) {
				continue
			}
			total += t.Duration()
			first := repository.DateOf(t.ClockIn.In(e.loc))
			last := repository.DateOf(t.ClockOut.In(e.loc))
			for d := first; !d.After(last); d = d.AddDays(1) {
				dates[d.String()] = struct{}{}
			}
		}
		p.HoursWorked = hoursOf(total)
		p.DaysWorked = len(dates)
		p.Amount = p.HoursWorked.Mul(emp.Rate).Round(2)

	case dailyEntry:
		entries, err := e.stores.Attendance.ListClosedDaysTrackings(ctx, emp.ID, p.PeriodStart, p.PeriodEnd)
		if err != nil {
			return err
		}
		for _, d := range entries {
			if settled(d.Date.Start(e.loc).Add(time.Duration(*d.ClockOut))) {
				continue
			}
			total += d.Duration()
			dates[d.Date.String()] = struct{}{}
		}
		p.HoursWorked = hoursOf(total)
		p.DaysWorked = len(dates)
		p.Amount = emp.Rate.Mul(decimal.NewFromInt(int64(p.DaysWorked))).Round(2)
	}
	return nil
}

// hoursOf converts a duration to hours rounded to 2 decimals
func hoursOf(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(hour).Round(2)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
