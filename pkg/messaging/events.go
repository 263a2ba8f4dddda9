package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Staff events consumed to keep the employee read model in sync
	EventEmployeeUpserted = "staff.employee.upserted"
	EventEmployeeDeleted  = "staff.employee.deleted"

	// Attendance events
	EventAttendanceClockIn  = "attendance.clock_in"
	EventAttendanceClockOut = "attendance.clock_out"

	// Payroll events
	EventPayrollAccrued = "payroll.accrued"
	EventPayrollPaid    = "payroll.paid"
)

// Exchange names
const (
	ExchangeStaffEvents      = "staff.events"
	ExchangeAttendanceEvents = "attendance.events"
	ExchangeDeadLetter       = "dlx.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Staff Events

// EmployeeUpsertedEvent carries the payroll relevant fields of an employee.
type EmployeeUpsertedEvent struct {
	EmployeeID  string          `json:"employee_id"`
	CompanyID   string          `json:"company_id"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	PaymentType string          `json:"payment_type"` // hour | day
	Rate        decimal.Decimal `json:"rate"`
}

// EmployeeDeletedEvent is published when an employee is removed from HR
type EmployeeDeletedEvent struct {
	EmployeeID string `json:"employee_id"`
	CompanyID  string `json:"company_id"`
}

// Attendance Events

// ClockEvent is published for kiosk clock-in and clock-out operations
type ClockEvent struct {
	RegisterID  string    `json:"register_id"`
	EntryID     string    `json:"entry_id"`
	EmployeeID  string    `json:"employee_id"`
	CompanyID   string    `json:"company_id"`
	PaymentType string    `json:"payment_type"`
	Timestamp   time.Time `json:"timestamp"`
}

// Payroll Events

// PayrollAccruedEvent is published after a pending payroll was recomputed
type PayrollAccruedEvent struct {
	PayrollID   string          `json:"payroll_id"`
	EmployeeID  string          `json:"employee_id"`
	CompanyID   string          `json:"company_id"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	DaysWorked  int             `json:"days_worked"`
	HoursWorked decimal.Decimal `json:"hours_worked"`
	Amount      decimal.Decimal `json:"amount"`
}

// PayrollPaidEvent is published when a payroll is paid and the next cycle opened
type PayrollPaidEvent struct {
	PayrollID        string          `json:"payroll_id"`
	EmployeeID       string          `json:"employee_id"`
	CompanyID        string          `json:"company_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference *string         `json:"payment_reference,omitempty"`
	PaymentDate      string          `json:"payment_date"`
	PaidBy           string          `json:"paid_by"`
	NextPayrollID    string          `json:"next_payroll_id"`
	NextRegisterID   string          `json:"next_register_id"`
}
