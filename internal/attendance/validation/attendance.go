package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/errors"
)

// MaxReportDays is the widest report range accepted
const MaxReportDays = 365

// Payment methods accepted by the payment service
const (
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCheck        = "check"
	PaymentMethodCash         = "cash"
	PaymentMethodOnline       = "online"
)

var paymentMethods = []string{
	PaymentMethodBankTransfer,
	PaymentMethodCheck,
	PaymentMethodCash,
	PaymentMethodOnline,
}

// allowed payroll status transitions
var transitions = map[repository.PayrollStatus][]repository.PayrollStatus{
	repository.PayrollStatusPending: {repository.PayrollStatusPaid},
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// WorkEntry is one item of a work_data batch as submitted
type WorkEntry struct {
	Date     string `json:"date,omitempty"`
	ClockIn  string `json:"clock_in,omitempty"`
	ClockOut string `json:"clock_out,omitempty"`
}

// HourlyEntry is a validated clock-in/clock-out pair
type HourlyEntry struct {
	ClockIn  time.Time
	ClockOut time.Time
}

// DailyEntry is a validated day of attendance
type DailyEntry struct {
	Date     repository.Date
	ClockIn  repository.TimeOfDay
	ClockOut repository.TimeOfDay
}

// WorkData holds the entries of a batch, parsed for the employee's payment type.
// Exactly one of the slices is populated.
type WorkData struct {
	Hourly []HourlyEntry
	Daily  []DailyEntry
}

// Len returns the number of entries
func (w *WorkData) Len() int {
	return len(w.Hourly) + len(w.Daily)
}

// PaymentData is the payment request as submitted
type PaymentData struct {
	PaymentMethod    string  `json:"payment_method"`
	PaymentReference *string `json:"payment_reference,omitempty"`
	PaymentDate      *string `json:"payment_date,omitempty"`
}

// Payment is validated payment data
type Payment struct {
	Method    string
	Reference *string
	Date      *repository.Date
}

// AttendanceValidator checks attendance and payroll business rules.
// It never touches persistence.
type AttendanceValidator struct {
	loc *time.Location
}

// NewAttendanceValidator creates a validator. Naive datetimes are read in loc.
func NewAttendanceValidator(loc *time.Location) *AttendanceValidator {
	if loc == nil {
		loc = time.UTC
	}
	return &AttendanceValidator{loc: loc}
}

// ValidateCompanyAccess fails unless the actor belongs to companyID
func (v *AttendanceValidator) ValidateCompanyAccess(a *actor.Actor, companyID, resource string) error {
	if a == nil || a.CompanyID == "" || a.CompanyID != companyID {
		return errors.AccessDenied(fmt.Sprintf("%s belongs to another company", resource))
	}
	return nil
}

// ValidateWorkData checks that entries is a non-empty list matching the
// schema of paymentType and parses it.
func (v *AttendanceValidator) ValidateWorkData(paymentType repository.PaymentType, entries []WorkEntry) (*WorkData, error) {
	if len(entries) == 0 {
		return nil, errors.Validation(map[string]string{"work_data": "must be a non-empty list"})
	}

	details := map[string]string{}
	data := &WorkData{}

	switch paymentType {
	case repository.PaymentTypeHour:
		for i, e := range entries {
			if entry, ok := v.hourlyEntry(i, e, details); ok {
				data.Hourly = append(data.Hourly, entry)
			}
		}
	case repository.PaymentTypeDay:
		for i, e := range entries {
			if entry, ok := v.dailyEntry(i, e, details); ok {
				data.Daily = append(data.Daily, entry)
			}
		}
	default:
		return nil, errors.Validation(map[string]string{
			"payment_type": fmt.Sprintf("unsupported payment type %q", paymentType),
		})
	}

	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	return data, nil
}

func (v *AttendanceValidator) hourlyEntry(i int, e WorkEntry, details map[string]string) (HourlyEntry, bool) {
	in, okIn := v.requiredDateTime(i, "clock_in", e.ClockIn, details)
	out, okOut := v.requiredDateTime(i, "clock_out", e.ClockOut, details)
	if !okIn || !okOut {
		return HourlyEntry{}, false
	}
	if !out.After(in) {
		details[field(i, "clock_out")] = "must be after clock_in"
		return HourlyEntry{}, false
	}
	return HourlyEntry{ClockIn: in, ClockOut: out}, true
}

func (v *AttendanceValidator) dailyEntry(i int, e WorkEntry, details map[string]string) (DailyEntry, bool) {
	ok := true
	var entry DailyEntry

	if strings.TrimSpace(e.Date) == "" {
		details[field(i, "date")] = "is required"
		ok = false
	} else if d, err := repository.ParseDate(e.Date); err != nil {
		details[field(i, "date")] = "must be a date in YYYY-MM-DD format"
		ok = false
	} else {
		entry.Date = d
	}

	for _, f := range []struct {
		name  string
		value string
		dst   *repository.TimeOfDay
	}{
		{"clock_in", e.ClockIn, &entry.ClockIn},
		{"clock_out", e.ClockOut, &entry.ClockOut},
	} {
		if strings.TrimSpace(f.value) == "" {
			details[field(i, f.name)] = "is required"
			ok = false
			continue
		}
		t, err := repository.ParseTimeOfDay(f.value)
		if err != nil {
			details[field(i, f.name)] = "must be a time in HH:MM[:SS] format"
			ok = false
			continue
		}
		*f.dst = t
	}

	if !ok {
		return DailyEntry{}, false
	}
	if entry.ClockOut <= entry.ClockIn {
		details[field(i, "clock_out")] = "must be after clock_in"
		return DailyEntry{}, false
	}
	return entry, true
}

func (v *AttendanceValidator) requiredDateTime(i int, name, value string, details map[string]string) (time.Time, bool) {
	if strings.TrimSpace(value) == "" {
		details[field(i, name)] = "is required"
		return time.Time{}, false
	}
	t, err := v.ParseDateTime(value)
	if err != nil {
		details[field(i, name)] = "must be an ISO 8601 datetime"
		return time.Time{}, false
	}
	return t, true
}

// ParseDateTime accepts RFC 3339 or a naive ISO datetime in the validator's location
func (v *AttendanceValidator) ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateTimeLayouts[0], s); err == nil {
		return t, nil
	}
	for _, layout := range dateTimeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, v.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

func field(i int, name string) string {
	return fmt.Sprintf("work_data[%d].%s", i, name)
}

// ValidateStatusTransition allows only the transitions listed in transitions.
// Same-state and backward changes fail with InvalidTransition.
func (v *AttendanceValidator) ValidateStatusTransition(from, to repository.PayrollStatus) error {
	if to != repository.PayrollStatusPending && to != repository.PayrollStatusPaid {
		return errors.Validation(map[string]string{"status": "must be one of: pending, paid"})
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return errors.InvalidTransition(string(from), string(to))
}

// ValidatePayable requires a pending payroll with a positive amount
func (v *AttendanceValidator) ValidatePayable(p *repository.Payroll) error {
	if p.Status != repository.PayrollStatusPending {
		return errors.InvalidTransition(string(p.Status), string(repository.PayrollStatusPaid))
	}
	if !p.Amount.IsPositive() {
		return errors.Validation(map[string]string{"amount": "must be greater than zero to be paid"})
	}
	return nil
}

// ValidatePaymentData checks the method enum and the optional reference and date
func (v *AttendanceValidator) ValidatePaymentData(data PaymentData) (*Payment, error) {
	details := map[string]string{}
	payment := &Payment{Method: strings.TrimSpace(data.PaymentMethod)}

	if payment.Method == "" {
		details["payment_method"] = "is required"
	} else if !contains(paymentMethods, payment.Method) {
		details["payment_method"] = "must be one of: " + strings.Join(paymentMethods, ", ")
	}

	if data.PaymentReference != nil {
		ref := strings.TrimSpace(*data.PaymentReference)
		if ref == "" {
			details["payment_reference"] = "must not be empty"
		} else if len(ref) > 255 {
			details["payment_reference"] = "must be at most 255 characters"
		} else {
			payment.Reference = &ref
		}
	}

	if data.PaymentDate != nil {
		d, err := repository.ParseDate(strings.TrimSpace(*data.PaymentDate))
		if err != nil {
			details["payment_date"] = "must be a date in YYYY-MM-DD format"
		} else {
			payment.Date = &d
		}
	}

	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	return payment, nil
}

// ValidateReportParameters parses a report range. start must not be after
// end and the range may span at most MaxReportDays.
func (v *AttendanceValidator) ValidateReportParameters(start, end string) (repository.Date, repository.Date, error) {
	details := map[string]string{}

	startDate, err := repository.ParseDate(start)
	if err != nil {
		details["start_date"] = "must be a date in YYYY-MM-DD format"
	}
	endDate, err := repository.ParseDate(end)
	if err != nil {
		details["end_date"] = "must be a date in YYYY-MM-DD format"
	}
	if len(details) > 0 {
		return repository.Date{}, repository.Date{}, errors.Validation(details)
	}

	if startDate.After(endDate) {
		return repository.Date{}, repository.Date{}, errors.Validation(map[string]string{
			"start_date": "must not be after end_date",
		})
	}
	if endDate.Sub(startDate.Time) > MaxReportDays*24*time.Hour {
		return repository.Date{}, repository.Date{}, errors.Validation(map[string]string{
			"end_date": fmt.Sprintf("range must not exceed %d days", MaxReportDays),
		})
	}
	return startDate, endDate, nil
}

// ValidateAccessCode requires a 6-digit code
func (v *AttendanceValidator) ValidateAccessCode(code int) error {
	if code < 100000 || code > 999999 {
		return errors.Validation(map[string]string{"access_code": "must be a 6-digit code"})
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
