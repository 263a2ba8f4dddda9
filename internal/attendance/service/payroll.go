package service

import (
	"context"
	"strconv"
	"time"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/internal/attendance/validation"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/logger"
)

const defaultMaxBatchSize = 200

// PaymentResult is the paid payroll together with the cycle it opened
type PaymentResult struct {
	Payroll     *repository.Payroll            `json:"payroll"`
	History     *repository.PayrollHistory     `json:"history"`
	NewRegister *repository.AttendanceRegister `json:"new_register"`
	NewPayroll  *repository.Payroll            `json:"new_payroll"`
}

// BatchPaymentDetail is the outcome for one payroll of a batch
type BatchPaymentDetail struct {
	PayrollID    string `json:"payroll_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	NewPayrollID string `json:"new_payroll_id,omitempty"`
}

// BatchReport summarizes a batch payment
type BatchReport struct {
	Total      int                  `json:"total"`
	Successful int                  `json:"successful"`
	Failed     int                  `json:"failed"`
	Details    []BatchPaymentDetail `json:"details"`
}

// PayrollServiceConfig tunes the payroll service
type PayrollServiceConfig struct {
	Location     *time.Location
	MaxBatchSize int
	Now          Clock
}

// PayrollService handles payroll payment and reads
type PayrollService struct {
	stores    Stores
	publisher EventPublisher
	validator *validation.AttendanceValidator
	loc       *time.Location
	now       Clock
	maxBatch  int
	logger    *logger.Logger
}

// NewPayrollService creates a new payroll service
func NewPayrollService(stores Stores, publisher EventPublisher, cfg PayrollServiceConfig, log *logger.Logger) *PayrollService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}

	return &PayrollService{
		stores:    stores,
		publisher: publisher,
		validator: validation.NewAttendanceValidator(cfg.Location),
		loc:       cfg.Location,
		now:       cfg.Now,
		maxBatch:  cfg.MaxBatchSize,
		logger:    log.WithComponent("payroll"),
	}
}

// ProcessPayment pays a pending payroll and opens the next cycle: a new
// register and a zeroed pending payroll dated today. All of it commits or
// nothing does.
func (s *PayrollService) ProcessPayment(ctx context.Context, a *actor.Actor, payrollID string, data validation.PaymentData) (*PaymentResult, error) {
	now := s.now()
	date := today(now, s.loc)
	result := &PaymentResult{}

	err := s.stores.Tx.WithinTransaction(ctx, func(ctx context.Context) error {
		p, err := s.stores.Payrolls.GetByIDForUpdate(ctx, payrollID)
		if err != nil {
			return err
		}
		if err := s.validator.ValidateCompanyAccess(a, p.CompanyID, "payroll"); err != nil {
			return err
		}
		payment, err := s.validator.ValidatePaymentData(data)
		if err != nil {
			return err
		}
		if err := s.validator.ValidatePayable(p); err != nil {
			return err
		}
		if err := s.validator.ValidateStatusTransition(p.Status, repository.PayrollStatusPaid); err != nil {
			return err
		}

		paymentDate := date
		if payment.Date != nil {
			paymentDate = *payment.Date
		}

		p.PaymentMethod = &payment.Method
		p.PaymentReference = payment.Reference
		p.PaidAt = &now
		p.UpdatedBy = a.AuditID()
		if err := s.stores.Payrolls.MarkPaid(ctx, p); err != nil {
			return err
		}

		history := &repository.PayrollHistory{
			EmployeeID:  p.EmployeeID,
			RegisterID:  p.RegisterID,
			PayrollID:   p.ID,
			AmountPaid:  p.Amount,
			PaymentDate: paymentDate,
		}
		if err := s.stores.Payrolls.UpsertHistory(ctx, history); err != nil {
			return err
		}

		reg := &repository.AttendanceRegister{
			CompanyID:  p.CompanyID,
			EmployeeID: p.EmployeeID,
			CreatedBy:  a.AuditID(),
		}
		if err := s.stores.Attendance.CreateRegister(ctx, reg); err != nil {
			return err
		}

		next := &repository.Payroll{
			CompanyID:   p.CompanyID,
			EmployeeID:  p.EmployeeID,
			RegisterID:  &reg.ID,
			PeriodStart: date,
			PeriodEnd:   date,
			CreatedBy:   a.AuditID(),
		}
		created, err := s.stores.Payrolls.CreatePending(ctx, next)
		if err != nil {
			return err
		}
		if !created {
			return errors.Conflict("employee already has a pending payroll")
		}

		result.Payroll = p
		result.History = history
		result.NewRegister = reg
		result.NewPayroll = next
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("payroll_id", payrollID).Msg("payment failed")
		return nil, storeError(err)
	}

	s.logger.Info().
		Str("payroll_id", result.Payroll.ID).
		Str("employee_id", result.Payroll.EmployeeID).
		Str("amount", result.Payroll.Amount.String()).
		Str("new_payroll_id", result.NewPayroll.ID).
		Str("new_register_id", result.NewRegister.ID).
		Msg("payroll paid")

	s.publisher.PublishPayrollPaid(ctx, result.Payroll, result.History, result.NewPayroll, a.ID)
	return result, nil
}

// BatchProcessPayments pays each payroll independently. A failure is
// recorded in the report and does not affect the other payrolls.
func (s *PayrollService) BatchProcessPayments(ctx context.Context, a *actor.Actor, payrollIDs []string, data validation.PaymentData) (*BatchReport, error) {
	if len(payrollIDs) == 0 {
		return nil, errors.Validation(map[string]string{"payroll_ids": "must contain at least 1 item"})
	}
	if len(payrollIDs) > s.maxBatch {
		return nil, errors.ValidationMessage("too many payrolls in one batch").
			WithDetails(map[string]string{"payroll_ids": "must contain at most " + strconv.Itoa(s.maxBatch) + " items"})
	}
	if _, err := s.validator.ValidatePaymentData(data); err != nil {
		return nil, err
	}

	report := &BatchReport{Total: len(payrollIDs), Details: make([]BatchPaymentDetail, 0, len(payrollIDs))}
	for _, id := range payrollIDs {
		detail := BatchPaymentDetail{PayrollID: id}

		result, err := s.ProcessPayment(ctx, a, id, data)
		if err != nil {
			detail.Error = errorMessage(err)
			report.Failed++
		} else {
			detail.Success = true
			detail.NewPayrollID = result.NewPayroll.ID
			report.Successful++
		}
		report.Details = append(report.Details, detail)
	}

	s.logger.Info().
		Int("total", report.Total).
		Int("successful", report.Successful).
		Int("failed", report.Failed).
		Msg("batch payment processed")

	return report, nil
}

// UpdateStatus moves a payroll to status. Paying goes through
// ProcessPayment; every other target is rejected by the transition rules.
func (s *PayrollService) UpdateStatus(ctx context.Context, a *actor.Actor, payrollID string, status repository.PayrollStatus, data validation.PaymentData) (*PaymentResult, error) {
	p, err := s.Get(ctx, a, payrollID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateStatusTransition(p.Status, status); err != nil {
		return nil, err
	}
	return s.ProcessPayment(ctx, a, payrollID, data)
}

// Get returns a payroll of the actor's company
func (s *PayrollService) Get(ctx context.Context, a *actor.Actor, payrollID string) (*repository.Payroll, error) {
	p, err := s.stores.Payrolls.GetByID(ctx, payrollID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateCompanyAccess(a, p.CompanyID, "payroll"); err != nil {
		return nil, err
	}
	return p, nil
}

// List lists the payrolls of the actor's company
func (s *PayrollService) List(ctx context.Context, a *actor.Actor, f repository.PayrollFilter) ([]*repository.Payroll, error) {
	if a == nil || a.CompanyID == "" {
		return nil, errors.AccessDenied("missing company context")
	}
	f.CompanyID = a.CompanyID
	return s.stores.Payrolls.List(ctx, f)
}

// History returns the payment history of a payroll
func (s *PayrollService) History(ctx context.Context, a *actor.Actor, payrollID string) (*repository.PayrollHistory, error) {
	if _, err := s.Get(ctx, a, payrollID); err != nil {
		return nil, err
	}
	return s.stores.Payrolls.GetHistory(ctx, payrollID)
}

// errorMessage is the client facing reason of a failure
func errorMessage(err error) string {
	return errors.FromError(err).Message
}
