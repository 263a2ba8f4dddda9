package consumers

import (
	"context"
	"fmt"
	"strings"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/config"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/logger"
	"github.com/luizmoretti/erp-backend/pkg/messaging"
)

const queueName = config.ServiceName + ".employee-events"

// Transactor runs fn in one transaction carried by the context
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// EmployeeWriter stores the employee read model
type EmployeeWriter interface {
	GetByID(ctx context.Context, id string) (*repository.Employee, error)
	Upsert(ctx context.Context, e *repository.Employee) error
	Deactivate(ctx context.Context, id string) error
}

// PendingPayrolls locks the pending payroll of an employee
type PendingPayrolls interface {
	GetPendingForUpdate(ctx context.Context, employeeID string) (*repository.Payroll, error)
}

// EmployeeEventConsumer keeps the employee read model in sync with HR
type EmployeeEventConsumer struct {
	consumer  *messaging.Consumer
	tx        Transactor
	employees EmployeeWriter
	payrolls  PendingPayrolls
	logger    *logger.Logger
}

// NewEmployeeEventConsumer creates a new employee event consumer
func NewEmployeeEventConsumer(rmq *messaging.RabbitMQ, tx Transactor, employees EmployeeWriter, payrolls PendingPayrolls, log *logger.Logger) (*EmployeeEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, queueName, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeStaffEvents, "staff.employee.#"); err != nil {
		return nil, err
	}

	c := &EmployeeEventConsumer{
		consumer:  consumer,
		tx:        tx,
		employees: employees,
		payrolls:  payrolls,
		logger:    log.WithComponent("employee-sync"),
	}

	consumer.RegisterHandler(messaging.EventEmployeeUpserted, c.handleEmployeeUpserted)
	consumer.RegisterHandler(messaging.EventEmployeeDeleted, c.handleEmployeeDeleted)

	return c, nil
}

// Start starts consuming messages
func (c *EmployeeEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *EmployeeEventConsumer) handleEmployeeUpserted(ctx context.Context, event *messaging.Event) error {
	var data messaging.EmployeeUpsertedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	paymentType := repository.PaymentType(strings.ToLower(strings.TrimSpace(data.PaymentType)))
	if paymentType != repository.PaymentTypeHour && paymentType != repository.PaymentTypeDay {
		return fmt.Errorf("employee %s: unsupported payment type %q", data.EmployeeID, data.PaymentType)
	}
	if data.EmployeeID == "" || data.CompanyID == "" {
		return fmt.Errorf("employee event %s: missing employee or company id", event.ID)
	}
	if data.Rate.IsNegative() {
		return fmt.Errorf("employee %s: negative rate %s", data.EmployeeID, data.Rate)
	}

	e := &repository.Employee{
		ID:          data.EmployeeID,
		CompanyID:   data.CompanyID,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		PaymentType: paymentType,
		Rate:        data.Rate,
	}
	err := c.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := c.keepAccruedPaymentType(ctx, e); err != nil {
			return err
		}
		return c.employees.Upsert(ctx, e)
	})
	if err != nil {
		return err
	}

	c.logger.Info().
		Str("employee_id", e.ID).
		Str("company_id", e.CompanyID).
		Str("payment_type", string(e.PaymentType)).
		Msg("employee synced")
	return nil
}

// keepAccruedPaymentType holds the stored payment type while the pending
// payroll has accruals, since they were computed under that type.
func (c *EmployeeEventConsumer) keepAccruedPaymentType(ctx context.Context, e *repository.Employee) error {
	current, err := c.employees.GetByID(ctx, e.ID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.PaymentType == e.PaymentType {
		return nil
	}

	pending, err := c.payrolls.GetPendingForUpdate(ctx, e.ID)
	if err != nil {
		return err
	}
	if pending == nil || !accrued(pending) {
		return nil
	}

	c.logger.Warn().
		Str("employee_id", e.ID).
		Str("payroll_id", pending.ID).
		Str("payment_type", string(current.PaymentType)).
		Str("requested_payment_type", string(e.PaymentType)).
		Msg("payment type change ignored while the pending payroll has accruals")
	e.PaymentType = current.PaymentType
	return nil
}

func accrued(p *repository.Payroll) bool {
	return p.DaysWorked > 0 || !p.HoursWorked.IsZero() || !p.Amount.IsZero()
}

func (c *EmployeeEventConsumer) handleEmployeeDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.EmployeeDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	// attendance and payroll history stays, new entries are refused
	if err := c.employees.Deactivate(ctx, data.EmployeeID); err != nil {
		return err
	}

	c.logger.Info().Str("employee_id", data.EmployeeID).Msg("employee deactivated")
	return nil
}
