package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/internal/attendance/validation"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/logger"
)

// Clock operations
const (
	OperationClockIn  = "clock_in"
	OperationClockOut = "clock_out"
	OperationNone     = "none"
)

const defaultAccessCodeAttempts = 10

// AttendanceInput is the payload of create and update
type AttendanceInput struct {
	EmployeeID string                 `json:"employee" validate:"omitempty,uuid"`
	WorkData   []validation.WorkEntry `json:"work_data"`
}

// RegisterDetail is a register with its entries
type RegisterDetail struct {
	*repository.AttendanceRegister
	EmployeeName  string                     `json:"employee_name"`
	PaymentType   repository.PaymentType     `json:"payment_type"`
	TimeTrackings []*repository.TimeTracking `json:"time_trackings,omitempty"`
	DaysTrackings []*repository.DaysTracking `json:"days_trackings,omitempty"`
}

// ClockResult is the outcome of a kiosk clock operation
type ClockResult struct {
	Operation    string    `json:"operation"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	RegisterID   string    `json:"register_id"`
	EntryID      string    `json:"entry_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AttendanceServiceConfig tunes the attendance service
type AttendanceServiceConfig struct {
	Location           *time.Location
	AccessCodeAttempts int
	Now                Clock
	// CodeSource draws a candidate access code; crypto/rand when nil
	CodeSource func() (int, error)
}

// AttendanceService manages registers and their time entries
type AttendanceService struct {
	stores     Stores
	accrual    *AccrualEngine
	publisher  EventPublisher
	validator  *validation.AttendanceValidator
	loc        *time.Location
	now        Clock
	codeSource func() (int, error)
	attempts   int
	logger     *logger.Logger
}

// NewAttendanceService creates a new attendance service
func NewAttendanceService(
	stores Stores,
	accrual *AccrualEngine,
	publisher EventPublisher,
	cfg AttendanceServiceConfig,
	log *logger.Logger,
) *AttendanceService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CodeSource == nil {
		cfg.CodeSource = randomAccessCode
	}
	if cfg.AccessCodeAttempts <= 0 {
		cfg.AccessCodeAttempts = defaultAccessCodeAttempts
	}

	return &AttendanceService{
		stores:     stores,
		accrual:    accrual,
		publisher:  publisher,
		validator:  validation.NewAttendanceValidator(cfg.Location),
		loc:        cfg.Location,
		now:        cfg.Now,
		codeSource: cfg.CodeSource,
		attempts:   cfg.AccessCodeAttempts,
		logger:     log.WithComponent("attendance"),
	}
}

// savedEntries collects what a batch wrote, for accrual after commit
type savedEntries struct {
	hourly []*repository.TimeTracking
	daily  []*repository.DaysTracking
}

// CreateAttendance creates a register with one entry per work_data item
func (s *AttendanceService) CreateAttendance(ctx context.Context, a *actor.Actor, in AttendanceInput) (*RegisterDetail, error) {
	if in.EmployeeID == "" {
		return nil, errors.Validation(map[string]string{"employee": "is required"})
	}

	emp, err := s.activeEmployee(ctx, a, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	data, err := s.validator.ValidateWorkData(emp.PaymentType, in.WorkData)
	if err != nil {
		return nil, err
	}

	reg := &repository.AttendanceRegister{
		CompanyID:  emp.CompanyID,
		EmployeeID: emp.ID,
		CreatedBy:  a.AuditID(),
	}

	var saved savedEntries
	err = s.stores.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.stores.Attendance.CreateRegister(ctx, reg); err != nil {
			return err
		}
		saved, err = s.saveEntries(ctx, reg, data)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("employee_id", emp.ID).Msg("failed to create attendance")
		return nil, storeError(err)
	}

	s.logger.Info().
		Str("register_id", reg.ID).
		Str("employee_id", emp.ID).
		Int("entries", data.Len()).
		Msg("attendance created")

	s.accrue(ctx, saved)
	return s.detail(ctx, reg, emp)
}

// UpdateAttendance upserts entries into an existing register by natural
// key. A partial update without work_data changes nothing.
func (s *AttendanceService) UpdateAttendance(ctx context.Context, a *actor.Actor, registerID string, in AttendanceInput, partial bool) (*RegisterDetail, error) {
	reg, err := s.stores.Attendance.GetRegister(ctx, registerID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateCompanyAccess(a, reg.CompanyID, "attendance register"); err != nil {
		return nil, err
	}
	if in.EmployeeID != "" && in.EmployeeID != reg.EmployeeID {
		return nil, errors.Validation(map[string]string{"employee": "must match the attendance register employee"})
	}

	emp, err := s.stores.Employees.GetByID(ctx, reg.EmployeeID)
	if err != nil {
		return nil, err
	}

	if partial && in.WorkData == nil {
		return s.detail(ctx, reg, emp)
	}

	data, err := s.validator.ValidateWorkData(emp.PaymentType, in.WorkData)
	if err != nil {
		return nil, err
	}

	var saved savedEntries
	err = s.stores.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		saved, err = s.saveEntries(ctx, reg, data)
		if err != nil {
			return err
		}
		return s.stores.Attendance.TouchRegister(ctx, reg.ID, a.AuditID())
	})
	if err != nil {
		s.logger.Error().Err(err).Str("register_id", reg.ID).Str("employee_id", emp.ID).Msg("failed to update attendance")
		return nil, storeError(err)
	}

	s.accrue(ctx, saved)
	return s.detail(ctx, reg, emp)
}

// saveEntries upserts every entry with the employee taken from the register
func (s *AttendanceService) saveEntries(ctx context.Context, reg *repository.AttendanceRegister, data *validation.WorkData) (savedEntries, error) {
	var saved savedEntries
	registerID := reg.ID

	for _, e := range data.Hourly {
		clockOut := e.ClockOut
		t := &repository.TimeTracking{
			RegisterID: &registerID,
			EmployeeID: reg.EmployeeID,
			ClockIn:    e.ClockIn,
			ClockOut:   &clockOut,
		}
		if err := s.stores.Attendance.UpsertTimeTracking(ctx, t); err != nil {
			return saved, err
		}
		saved.hourly = append(saved.hourly, t)
	}

	for _, e := range data.Daily {
		clockIn, clockOut := e.ClockIn, e.ClockOut
		d := &repository.DaysTracking{
			RegisterID: &registerID,
			EmployeeID: reg.EmployeeID,
			Date:       e.Date,
			ClockIn:    &clockIn,
			ClockOut:   &clockOut,
		}
		if err := s.stores.Attendance.UpsertDaysTracking(ctx, d); err != nil {
			return saved, err
		}
		saved.daily = append(saved.daily, d)
	}

	return saved, nil
}

func (s *AttendanceService) accrue(ctx context.Context, saved savedEntries) {
	for _, t := range saved.hourly {
		s.accrual.OnTimeTrackingSaved(ctx, t)
	}
	for _, d := range saved.daily {
		s.accrual.OnDaysTrackingSaved(ctx, d)
	}
}

// ClockInOutWithCode clocks the register's employee in or out, whichever is due
func (s *AttendanceService) ClockInOutWithCode(ctx context.Context, code int) (*ClockResult, error) {
	if err := s.validator.ValidateAccessCode(code); err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	var (
		result  *ClockResult
		reg     *repository.AttendanceRegister
		emp     *repository.Employee
		closedT *repository.TimeTracking
		closedD *repository.DaysTracking
	)

	err := s.stores.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		reg, err = s.stores.Attendance.GetRegisterByAccessCode(ctx, code)
		if err != nil {
			return err
		}
		emp, err = s.stores.Employees.GetByID(ctx, reg.EmployeeID)
		if err != nil {
			return err
		}

		result = &ClockResult{
			Operation:    OperationNone,
			EmployeeID:   emp.ID,
			EmployeeName: emp.FullName(),
			RegisterID:   reg.ID,
			Timestamp:    now,
		}

		switch emp.PaymentType {
		case repository.PaymentTypeHour:
			closedT, err = s.clockHourly(ctx, reg, now, result)
		case repository.PaymentTypeDay:
			closedD, err = s.clockDaily(ctx, reg, now, result)
		default:
			result.Message = "unsupported payment type"
		}
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Int("access_code", code).Msg("clock operation failed")
		return nil, clockError(code, err)
	}

	switch result.Operation {
	case OperationClockIn:
		s.publisher.PublishClockIn(ctx, reg, emp, result.EntryID, now)
	case OperationClockOut:
		s.publisher.PublishClockOut(ctx, reg, emp, result.EntryID, now)
	}
	if closedT != nil {
		s.accrual.OnTimeTrackingSaved(ctx, closedT)
	}
	if closedD != nil {
		s.accrual.OnDaysTrackingSaved(ctx, closedD)
	}

	s.logger.Info().
		Str("operation", result.Operation).
		Str("register_id", result.RegisterID).
		Str("employee_id", result.EmployeeID).
		Bool("success", result.Success).
		Msg("clock operation")

	return result, nil
}

// clockHourly closes the open entry or opens a new one. It returns the
// entry when it was closed.
func (s *AttendanceService) clockHourly(ctx context.Context, reg *repository.AttendanceRegister, now time.Time, result *ClockResult) (*repository.TimeTracking, error) {
	open, err := s.stores.Attendance.GetOpenTimeTracking(ctx, reg.ID, reg.EmployeeID)
	if err != nil {
		return nil, err
	}

	if open != nil {
		if err := s.stores.Attendance.CloseTimeTracking(ctx, open, now); err != nil {
			return nil, err
		}
		result.Operation = OperationClockOut
		result.Success = true
		result.Message = "clock-out registered"
		result.EntryID = open.ID
		return open, nil
	}

	registerID := reg.ID
	t := &repository.TimeTracking{
		RegisterID: &registerID,
		EmployeeID: reg.EmployeeID,
		ClockIn:    now,
	}
	if err := s.stores.Attendance.UpsertTimeTracking(ctx, t); err != nil {
		return nil, err
	}
	result.Operation = OperationClockIn
	result.Success = true
	result.Message = "clock-in registered"
	result.EntryID = t.ID
	return nil, nil
}

// clockDaily fills today's entry. It returns the entry when it was closed.
func (s *AttendanceService) clockDaily(ctx context.Context, reg *repository.AttendanceRegister, now time.Time, result *ClockResult) (*repository.DaysTracking, error) {
	date := repository.DateOf(now)
	at := repository.TimeOfDayOf(now)

	d, err := s.stores.Attendance.GetDaysTracking(ctx, reg.ID, reg.EmployeeID, date)
	if err != nil {
		return nil, err
	}

	switch {
	case d == nil:
		registerID := reg.ID
		d = &repository.DaysTracking{
			RegisterID: &registerID,
			EmployeeID: reg.EmployeeID,
			Date:       date,
			ClockIn:    &at,
		}
		if err := s.stores.Attendance.UpsertDaysTracking(ctx, d); err != nil {
			return nil, err
		}
		result.Operation = OperationClockIn
		result.Success = true
		result.Message = "clock-in registered"
		result.EntryID = d.ID
		return nil, nil

	case d.ClockOut == nil:
		if err := s.stores.Attendance.CloseDaysTracking(ctx, d, at); err != nil {
			return nil, err
		}
		result.Operation = OperationClockOut
		result.Success = true
		result.Message = "clock-out registered"
		result.EntryID = d.ID
		return d, nil

	default:
		result.Message = "attendance already fully registered for today"
		result.EntryID = d.ID
		return nil, nil
	}
}

// clockError keeps NotFound and AppErrors and reports anything else as a
// validation failure of the access code.
func clockError(code int, err error) error {
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return errors.ValidationMessage("clock operation failed for access code " + strconv.Itoa(code)).
		WithDetails(map[string]string{"access_code": strconv.Itoa(code)})
}

// IssueAccessCode opens a register with a fresh unique 6-digit code
func (s *AttendanceService) IssueAccessCode(ctx context.Context, a *actor.Actor, employeeID string) (*repository.AttendanceRegister, error) {
	emp, err := s.activeEmployee(ctx, a, employeeID)
	if err != nil {
		return nil, err
	}

	for i := 0; i < s.attempts; i++ {
		code, err := s.codeSource()
		if err != nil {
			return nil, err
		}

		reg := &repository.AttendanceRegister{
			CompanyID:  emp.CompanyID,
			EmployeeID: emp.ID,
			AccessCode: &code,
			CreatedBy:  a.AuditID(),
		}
		err = s.stores.Attendance.CreateRegister(ctx, reg)
		if err == nil {
			s.logger.Info().Str("register_id", reg.ID).Str("employee_id", emp.ID).Msg("access code issued")
			return reg, nil
		}
		if !database.IsUniqueViolation(err, "attendance_registers_access_code_key") {
			return nil, storeError(err)
		}
	}

	s.logger.Warn().Str("employee_id", emp.ID).Int("attempts", s.attempts).Msg("access code space exhausted")
	return nil, errors.Conflict("could not allocate a unique access code")
}

// GetAttendance returns a register with its entries
func (s *AttendanceService) GetAttendance(ctx context.Context, a *actor.Actor, registerID string) (*RegisterDetail, error) {
	reg, err := s.stores.Attendance.GetRegister(ctx, registerID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateCompanyAccess(a, reg.CompanyID, "attendance register"); err != nil {
		return nil, err
	}
	emp, err := s.stores.Employees.GetByID(ctx, reg.EmployeeID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, reg, emp)
}

// activeEmployee loads an employee of the actor's company. Company access is
// checked before the active flag.
func (s *AttendanceService) activeEmployee(ctx context.Context, a *actor.Actor, id string) (*repository.Employee, error) {
	emp, err := s.stores.Employees.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateCompanyAccess(a, emp.CompanyID, "employee"); err != nil {
		return nil, err
	}
	if !emp.Active {
		return nil, errors.Validation(map[string]string{"employee": "is inactive"})
	}
	return emp, nil
}

func (s *AttendanceService) detail(ctx context.Context, reg *repository.AttendanceRegister, emp *repository.Employee) (*RegisterDetail, error) {
	detail := &RegisterDetail{
		AttendanceRegister: reg,
		EmployeeName:       emp.FullName(),
		PaymentType:        emp.PaymentType,
	}

	var err error
	switch emp.PaymentType {
	case repository.PaymentTypeDay:
		detail.DaysTrackings, err = s.stores.Attendance.ListDaysTrackingsByRegister(ctx, reg.ID)
	default:
		detail.TimeTrackings, err = s.stores.Attendance.ListTimeTrackingsByRegister(ctx, reg.ID)
	}
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// randomAccessCode draws uniformly from 100000-999999
func randomAccessCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, err
	}
	return 100000 + int(n.Int64()), nil
}
