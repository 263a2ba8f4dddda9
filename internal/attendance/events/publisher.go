package events

import (
	"context"
	"time"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/config"
	"github.com/luizmoretti/erp-backend/pkg/logger"
	"github.com/luizmoretti/erp-backend/pkg/messaging"
)

// Sender publishes one event. *messaging.Publisher implements it.
type Sender interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// AttendanceEventPublisher publishes attendance and payroll notifications.
// Failures are logged and never returned to the caller.
type AttendanceEventPublisher struct {
	sender Sender
	logger *logger.Logger
}

// NewAttendanceEventPublisher creates a publisher over an existing sender
func NewAttendanceEventPublisher(sender Sender, log *logger.Logger) *AttendanceEventPublisher {
	return &AttendanceEventPublisher{
		sender: sender,
		logger: log,
	}
}

// NewRabbitMQPublisher declares the attendance exchange and publishes to it
func NewRabbitMQPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*AttendanceEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeAttendanceEvents, config.ServiceName, log)
	if err != nil {
		return nil, err
	}
	return NewAttendanceEventPublisher(publisher, log), nil
}

// PublishClockIn publishes a kiosk clock-in
func (p *AttendanceEventPublisher) PublishClockIn(ctx context.Context, reg *repository.AttendanceRegister, emp *repository.Employee, entryID string, at time.Time) {
	p.publishClock(ctx, messaging.EventAttendanceClockIn, reg, emp, entryID, at)
}

// PublishClockOut publishes a kiosk clock-out
func (p *AttendanceEventPublisher) PublishClockOut(ctx context.Context, reg *repository.AttendanceRegister, emp *repository.Employee, entryID string, at time.Time) {
	p.publishClock(ctx, messaging.EventAttendanceClockOut, reg, emp, entryID, at)
}

func (p *AttendanceEventPublisher) publishClock(ctx context.Context, eventType string, reg *repository.AttendanceRegister, emp *repository.Employee, entryID string, at time.Time) {
	data := messaging.ClockEvent{
		RegisterID:  reg.ID,
		EntryID:     entryID,
		EmployeeID:  emp.ID,
		CompanyID:   reg.CompanyID,
		PaymentType: string(emp.PaymentType),
		Timestamp:   at.UTC(),
	}

	if err := p.sender.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).
			Str("event", eventType).
			Str("register_id", reg.ID).
			Str("employee_id", emp.ID).
			Msg("failed to publish clock event")
	}
}

// PublishPayrollAccrued publishes the recomputed totals of a pending payroll
func (p *AttendanceEventPublisher) PublishPayrollAccrued(ctx context.Context, payroll *repository.Payroll) {
	data := messaging.PayrollAccruedEvent{
		PayrollID:   payroll.ID,
		EmployeeID:  payroll.EmployeeID,
		CompanyID:   payroll.CompanyID,
		PeriodStart: payroll.PeriodStart.String(),
		PeriodEnd:   payroll.PeriodEnd.String(),
		DaysWorked:  payroll.DaysWorked,
		HoursWorked: payroll.HoursWorked,
		Amount:      payroll.Amount,
	}

	if err := p.sender.Publish(ctx, messaging.EventPayrollAccrued, data); err != nil {
		p.logger.Error().Err(err).Str("payroll_id", payroll.ID).Msg("failed to publish payroll accrued event")
	}
}

// PublishPayrollPaid publishes a payment together with the cycle it opened
func (p *AttendanceEventPublisher) PublishPayrollPaid(ctx context.Context, paid *repository.Payroll, history *repository.PayrollHistory, next *repository.Payroll, paidBy string) {
	data := messaging.PayrollPaidEvent{
		PayrollID:        paid.ID,
		EmployeeID:       paid.EmployeeID,
		CompanyID:        paid.CompanyID,
		Amount:           paid.Amount,
		PaymentReference: paid.PaymentReference,
		PaymentDate:      history.PaymentDate.String(),
		PaidBy:           paidBy,
		NextPayrollID:    next.ID,
	}
	if paid.PaymentMethod != nil {
		data.PaymentMethod = *paid.PaymentMethod
	}
	if next.RegisterID != nil {
		data.NextRegisterID = *next.RegisterID
	}

	if err := p.sender.Publish(ctx, messaging.EventPayrollPaid, data); err != nil {
		p.logger.Error().Err(err).Str("payroll_id", paid.ID).Msg("failed to publish payroll paid event")
	}
}
