package repository

import (
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Schema creates every table of the service. It is idempotent.
//
//go:embed schema.sql
var Schema string

// Tables lists the service tables in dependency order, children last.
var Tables = []string{
	"employees",
	"attendance_registers",
	"time_trackings",
	"days_trackings",
	"payrolls",
	"payroll_histories",
}

// PaymentType is the compensation model of an employee
type PaymentType string

const (
	PaymentTypeHour PaymentType = "hour"
	PaymentTypeDay  PaymentType = "day"
)

// PayrollStatus is the lifecycle state of a payroll
type PayrollStatus string

const (
	PayrollStatusPending PayrollStatus = "pending"
	PayrollStatusPaid    PayrollStatus = "paid"
)

// Employee is the read model of an HR employee
type Employee struct {
	ID          string          `db:"id" json:"id"`
	CompanyID   string          `db:"company_id" json:"company_id"`
	FirstName   string          `db:"first_name" json:"first_name"`
	LastName    string          `db:"last_name" json:"last_name"`
	PaymentType PaymentType     `db:"payment_type" json:"payment_type"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
	Active      bool            `db:"active" json:"active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// FullName returns first and last name
func (e *Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// AttendanceRegister groups the time entries of one employee for a cycle
type AttendanceRegister struct {
	ID         string    `db:"id" json:"id"`
	CompanyID  string    `db:"company_id" json:"company_id"`
	EmployeeID string    `db:"employee_id" json:"employee_id"`
	AccessCode *int      `db:"access_code" json:"access_code,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
	CreatedBy  *string   `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy  *string   `db:"updated_by" json:"updated_by,omitempty"`
}

// TimeTracking is a clock-in/clock-out pair of an hourly employee
type TimeTracking struct {
	ID         string     `db:"id" json:"id"`
	RegisterID *string    `db:"register_id" json:"register_id,omitempty"`
	EmployeeID string     `db:"employee_id" json:"employee_id"`
	ClockIn    time.Time  `db:"clock_in" json:"clock_in"`
	ClockOut   *time.Time `db:"clock_out" json:"clock_out,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Closed reports whether the entry has a clock-out.
func (t *TimeTracking) Closed() bool {
	return t.ClockOut != nil
}

// Duration is clock_out - clock_in, zero while the entry is open.
func (t *TimeTracking) Duration() time.Duration {
	if t.ClockOut == nil {
		return 0
	}
	return t.ClockOut.Sub(t.ClockIn)
}

// DaysTracking is the attendance of a daily employee on one date
type DaysTracking struct {
	ID         string     `db:"id" json:"id"`
	RegisterID *string    `db:"register_id" json:"register_id,omitempty"`
	EmployeeID string     `db:"employee_id" json:"employee_id"`
	Date       Date       `db:"date" json:"date"`
	ClockIn    *TimeOfDay `db:"clock_in" json:"clock_in,omitempty"`
	ClockOut   *TimeOfDay `db:"clock_out" json:"clock_out,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Closed reports whether the entry has a clock-out.
func (d *DaysTracking) Closed() bool {
	return d.ClockOut != nil
}

// Duration is the time between clock-in and clock-out on the same day.
func (d *DaysTracking) Duration() time.Duration {
	if d.ClockIn == nil || d.ClockOut == nil || *d.ClockOut <= *d.ClockIn {
		return 0
	}
	return d.ClockOut.Sub(*d.ClockIn)
}

// Payroll is the accrual of one employee over a period
type Payroll struct {
	ID               string          `db:"id" json:"id"`
	CompanyID        string          `db:"company_id" json:"company_id"`
	EmployeeID       string          `db:"employee_id" json:"employee_id"`
	RegisterID       *string         `db:"register_id" json:"register_id,omitempty"`
	PeriodStart      Date            `db:"period_start" json:"period_start"`
	PeriodEnd        Date            `db:"period_end" json:"period_end"`
	DaysWorked       int             `db:"days_worked" json:"days_worked"`
	HoursWorked      decimal.Decimal `db:"hours_worked" json:"hours_worked"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Status           PayrollStatus   `db:"status" json:"status"`
	PaymentMethod    *string         `db:"payment_method" json:"payment_method,omitempty"`
	PaymentReference *string         `db:"payment_reference" json:"payment_reference,omitempty"`
	PaidAt           *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	CreatedBy        *string         `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy        *string         `db:"updated_by" json:"updated_by,omitempty"`
}

// PayrollHistory records what was paid for a payroll
type PayrollHistory struct {
	ID          string          `db:"id" json:"id"`
	EmployeeID  string          `db:"employee_id" json:"employee_id"`
	RegisterID  *string         `db:"register_id" json:"register_id,omitempty"`
	PayrollID   string          `db:"payroll_id" json:"payroll_id"`
	AmountPaid  decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	PaymentDate Date            `db:"payment_date" json:"payment_date"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// PayrollFilter narrows payroll listings. CompanyID is mandatory.
type PayrollFilter struct {
	CompanyID  string
	EmployeeID string
	Status     PayrollStatus
	Limit      int
	Offset     int
}

// PayrollReportRow aggregates the payrolls of one employee
type PayrollReportRow struct {
	EmployeeID    string          `db:"employee_id" json:"employee_id"`
	EmployeeName  string          `db:"employee_name" json:"employee_name"`
	PaymentType   PaymentType     `db:"payment_type" json:"payment_type"`
	Payrolls      int             `db:"payrolls" json:"payrolls"`
	DaysWorked    int             `db:"days_worked" json:"days_worked"`
	HoursWorked   decimal.Decimal `db:"hours_worked" json:"hours_worked"`
	AmountPaid    decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	AmountPending decimal.Decimal `db:"amount_pending" json:"amount_pending"`
}

// ============================================================================
// DATE
// ============================================================================

const dateLayout = "2006-01-02"

// Date is a calendar date stored as UTC midnight
type Date struct {
	time.Time
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// NewDate builds a date from its parts
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

// AddDays returns the date n days later
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

// Before reports whether d is before o
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// After reports whether d is after o
func (d Date) After(o Date) bool { return d.Time.After(o.Time) }

// Equal reports whether both are the same date
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

// Start returns midnight of the date in loc
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Value implements driver.Valuer
func (d Date) Value() (driver.Value, error) {
	return d.Format(dateLayout), nil
}

// Scan implements sql.Scanner
func (d *Date) Scan(value interface{}) error {
	switch v := value.(type) {
	case time.Time:
		*d = DateOf(v)
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into Date", value)
	}
}

func (d *Date) parse(s string) error {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON renders YYYY-MM-DD
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses YYYY-MM-DD
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// ============================================================================
// TIME OF DAY
// ============================================================================

// TimeOfDay is a wall clock time, stored as the offset from midnight
type TimeOfDay time.Duration

var timeOfDayLayouts = []string{"15:04:05.999999", "15:04:05", "15:04"}

// TimeOfDayOf returns the wall clock time of t, truncated to the
// microsecond kept by a Postgres TIME column.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
	return TimeOfDay(d.Truncate(time.Microsecond))
}

// ParseTimeOfDay accepts HH:MM, HH:MM:SS and HH:MM:SS.ffffff
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			h, m, sec := t.Clock()
			return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
				time.Duration(sec)*time.Second + time.Duration(t.Nanosecond())), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// Sub returns t - o
func (t TimeOfDay) Sub(o TimeOfDay) time.Duration {
	return time.Duration(t) - time.Duration(o)
}

// On places the time of day on a date in loc
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return d.Start(loc).Add(time.Duration(t))
}

// String renders HH:MM:SS, with microseconds when there are any
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	clock := fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	if frac := (d % time.Second).Microseconds(); frac != 0 {
		clock += fmt.Sprintf(".%06d", frac)
	}
	return clock
}

// Value implements driver.Valuer
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

// Scan implements sql.Scanner
func (t *TimeOfDay) Scan(value interface{}) error {
	switch v := value.(type) {
	case time.Time:
		*t = TimeOfDayOf(v)
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", value)
	}
}

func (t *TimeOfDay) parse(s string) error {
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON renders HH:MM:SS
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses any accepted layout
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.parse(s)
}
