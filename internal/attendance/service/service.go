package service

import (
	"context"
	"time"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/database"
)

// Transactor runs fn inside a database transaction carried by ctx
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AttendanceStore persists registers and time entries
type AttendanceStore interface {
	CreateRegister(ctx context.Context, reg *repository.AttendanceRegister) error
	GetRegister(ctx context.Context, id string) (*repository.AttendanceRegister, error)
	GetRegisterByAccessCode(ctx context.Context, code int) (*repository.AttendanceRegister, error)
	TouchRegister(ctx context.Context, id string, updatedBy *string) error

	UpsertTimeTracking(ctx context.Context, t *repository.TimeTracking) error
	CloseTimeTracking(ctx context.Context, t *repository.TimeTracking, clockOut time.Time) error
	GetOpenTimeTracking(ctx context.Context, registerID, employeeID string) (*repository.TimeTracking, error)
	ListTimeTrackingsByRegister(ctx context.Context, registerID string) ([]*repository.TimeTracking, error)
	ListClosedTimeTrackings(ctx context.Context, employeeID string, from, to time.Time) ([]*repository.TimeTracking, error)

	UpsertDaysTracking(ctx context.Context, d *repository.DaysTracking) error
	CloseDaysTracking(ctx context.Context, d *repository.DaysTracking, clockOut repository.TimeOfDay) error
	GetDaysTracking(ctx context.Context, registerID, employeeID string, date repository.Date) (*repository.DaysTracking, error)
	ListDaysTrackingsByRegister(ctx context.Context, registerID string) ([]*repository.DaysTracking, error)
	ListClosedDaysTrackings(ctx context.Context, employeeID string, from, to repository.Date) ([]*repository.DaysTracking, error)
}

// PayrollStore persists payrolls and payment history
type PayrollStore interface {
	CreatePending(ctx context.Context, p *repository.Payroll) (bool, error)
	GetPendingForUpdate(ctx context.Context, employeeID string) (*repository.Payroll, error)
	GetByID(ctx context.Context, id string) (*repository.Payroll, error)
	GetByIDForUpdate(ctx context.Context, id string) (*repository.Payroll, error)
	UpdateAccrual(ctx context.Context, p *repository.Payroll) error
	MarkPaid(ctx context.Context, p *repository.Payroll) error
	List(ctx context.Context, f repository.PayrollFilter) ([]*repository.Payroll, error)
	LastPaidAt(ctx context.Context, employeeID string) (*time.Time, error)
	Report(ctx context.Context, companyID string, start, end repository.Date) ([]*repository.PayrollReportRow, error)

	UpsertHistory(ctx context.Context, h *repository.PayrollHistory) error
	GetHistory(ctx context.Context, payrollID string) (*repository.PayrollHistory, error)
}

// EmployeeStore reads the employee read model
type EmployeeStore interface {
	GetByID(ctx context.Context, id string) (*repository.Employee, error)
}

// EventPublisher dispatches attendance notifications. Implementations log
// their own failures.
type EventPublisher interface {
	PublishClockIn(ctx context.Context, reg *repository.AttendanceRegister, emp *repository.Employee, entryID string, at time.Time)
	PublishClockOut(ctx context.Context, reg *repository.AttendanceRegister, emp *repository.Employee, entryID string, at time.Time)
	PublishPayrollAccrued(ctx context.Context, p *repository.Payroll)
	PublishPayrollPaid(ctx context.Context, paid *repository.Payroll, history *repository.PayrollHistory, next *repository.Payroll, paidBy string)
}

// Stores bundles the persistence dependencies shared by the services
type Stores struct {
	Tx         Transactor
	Attendance AttendanceStore
	Payrolls   PayrollStore
	Employees  EmployeeStore
}

// Clock returns the current time
type Clock func() time.Time

// storeError turns driver constraint violations into AppErrors
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

func today(now time.Time, loc *time.Location) repository.Date {
	return repository.DateOf(now.In(loc))
}
