// Package attendancetest provides an in-memory implementation of the
// attendance stores for service and handler tests. Constraint violations are
// reported as *pq.Error values carrying the real constraint names.
package attendancetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/pkg/errors"
)

type txKey struct{}

type state struct {
	employees map[string]repository.Employee
	registers map[string]repository.AttendanceRegister
	times     map[string]repository.TimeTracking
	days      map[string]repository.DaysTracking
	payrolls  map[string]repository.Payroll
	histories map[string]repository.PayrollHistory // by payroll id
}

func newState() state {
	return state{
		employees: map[string]repository.Employee{},
		registers: map[string]repository.AttendanceRegister{},
		times:     map[string]repository.TimeTracking{},
		days:      map[string]repository.DaysTracking{},
		payrolls:  map[string]repository.Payroll{},
		histories: map[string]repository.PayrollHistory{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.registers {
		c.registers[k] = v
	}
	for k, v := range s.times {
		c.times[k] = v
	}
	for k, v := range s.days {
		c.days[k] = v
	}
	for k, v := range s.payrolls {
		c.payrolls[k] = v
	}
	for k, v := range s.histories {
		c.histories[k] = v
	}
	return c
}

// Store is an in-memory attendance, payroll and employee store.
// Transactions are serialized and roll back on error.
type Store struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	data     state
	failures map[string]error
	Now      func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		data:     newState(),
		failures: map[string]error{},
		Now:      time.Now,
	}
}

// WithinTransaction runs fn atomically. Nested calls join the outer transaction.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Fail makes every call of op return err until cleared with Fail(op, nil).
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	return s.failures[op]
}

// ============================================================================
// EMPLOYEES
// ============================================================================

// AddEmployee inserts an active employee and returns it
func (s *Store) AddEmployee(companyID string, paymentType repository.PaymentType, rate string) *repository.Employee {
	e := &repository.Employee{
		ID:          uuid.New().String(),
		CompanyID:   companyID,
		FirstName:   "Test",
		LastName:    "Employee",
		PaymentType: paymentType,
		Rate:        decimal.RequireFromString(rate),
		Active:      true,
	}
	if err := s.Upsert(context.Background(), e); err != nil {
		panic(err)
	}
	return e
}

// GetByID gets an employee by ID
func (s *Store) GetByID(ctx context.Context, id string) (*repository.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetEmployee"); err != nil {
		return nil, err
	}
	e, ok := s.data.employees[id]
	if !ok {
		return nil, errors.NotFound("employee")
	}
	return &e, nil
}

// Upsert inserts or refreshes an employee and reactivates it
func (s *Store) Upsert(ctx context.Context, e *repository.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertEmployee"); err != nil {
		return err
	}
	now := s.Now()
	if existing, ok := s.data.employees[e.ID]; ok {
		e.CreatedAt = existing.CreatedAt
	} else {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Active = true
	s.data.employees[e.ID] = *e
	return nil
}

// Deactivate marks an employee inactive
func (s *Store) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data.employees[id]; ok {
		e.Active = false
		s.data.employees[id] = e
	}
	return nil
}

// ============================================================================
// REGISTERS
// ============================================================================

// CreateRegister inserts a register
func (s *Store) CreateRegister(ctx context.Context, reg *repository.AttendanceRegister) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateRegister"); err != nil {
		return err
	}
	if _, ok := s.data.employees[reg.EmployeeID]; !ok {
		return fkError("attendance_registers_employee_id_fkey")
	}
	if reg.AccessCode != nil {
		for _, r := range s.data.registers {
			if r.AccessCode != nil && *r.AccessCode == *reg.AccessCode {
				return &pq.Error{Code: "23505", Constraint: "attendance_registers_access_code_key", Message: "duplicate key value"}
			}
		}
	}
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	reg.CreatedAt = s.Now()
	reg.UpdatedAt = reg.CreatedAt
	reg.UpdatedBy = reg.CreatedBy
	s.data.registers[reg.ID] = *reg
	return nil
}

// GetRegister gets a register by ID
func (s *Store) GetRegister(ctx context.Context, id string) (*repository.AttendanceRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.registers[id]
	if !ok {
		return nil, errors.NotFound("attendance register")
	}
	return &r, nil
}

// GetRegisterByAccessCode resolves a kiosk code
func (s *Store) GetRegisterByAccessCode(ctx context.Context, code int) (*repository.AttendanceRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data.registers {
		if r.AccessCode != nil && *r.AccessCode == code {
			return &r, nil
		}
	}
	return nil, errors.NotFound("attendance register")
}

// TouchRegister records who last changed the register
func (s *Store) TouchRegister(ctx context.Context, id string, updatedBy *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.data.registers[id]; ok {
		r.UpdatedAt = s.Now()
		r.UpdatedBy = updatedBy
		s.data.registers[id] = r
	}
	return nil
}

// Registers returns every register of an employee, oldest first
func (s *Store) Registers(employeeID string) []repository.AttendanceRegister {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.AttendanceRegister
	for _, r := range s.data.registers {
		if r.EmployeeID == employeeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// checkRegisterEmployee mirrors the employee FK and the composite
// (register_id, employee_id) FK of a tracking table
func (s *Store) checkRegisterEmployee(table string, registerID *string, employeeID string) error {
	if _, ok := s.data.employees[employeeID]; !ok {
		return fkError(table + "_employee_id_fkey")
	}
	if registerID == nil {
		return nil
	}
	r, ok := s.data.registers[*registerID]
	if !ok || r.EmployeeID != employeeID {
		return fkError(table + "_register_employee_fkey")
	}
	return nil
}

// ============================================================================
// TIME TRACKINGS
// ============================================================================

// UpsertTimeTracking upserts by (register, employee, clock_in)
func (s *Store) UpsertTimeTracking(ctx context.Context, t *repository.TimeTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertTimeTracking"); err != nil {
		return err
	}
	if err := s.checkRegisterEmployee("time_trackings", t.RegisterID, t.EmployeeID); err != nil {
		return err
	}
	if t.ClockOut != nil && !t.ClockOut.After(t.ClockIn) {
		return checkError("time_trackings_clock_order")
	}

	now := s.Now()
	for id, existing := range s.data.times {
		if sameRegister(existing.RegisterID, t.RegisterID) && existing.EmployeeID == t.EmployeeID && existing.ClockIn.Equal(t.ClockIn) {
			existing.ClockOut = t.ClockOut
			existing.UpdatedAt = now
			s.data.times[id] = existing
			*t = existing
			return nil
		}
	}

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	s.data.times[t.ID] = *t
	return nil
}

// CloseTimeTracking sets the clock_out of an open entry
func (s *Store) CloseTimeTracking(ctx context.Context, t *repository.TimeTracking, clockOut time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data.times[t.ID]
	if !ok || existing.ClockOut != nil {
		return errors.Conflict("time entry is already closed")
	}
	if !clockOut.After(existing.ClockIn) {
		return checkError("time_trackings_clock_order")
	}
	existing.ClockOut = &clockOut
	existing.UpdatedAt = s.Now()
	s.data.times[t.ID] = existing
	*t = existing
	return nil
}

// GetOpenTimeTracking returns the latest open entry, or nil
func (s *Store) GetOpenTimeTracking(ctx context.Context, registerID, employeeID string) (*repository.TimeTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *repository.TimeTracking
	for _, t := range s.data.times {
		t := t
		if t.ClockOut == nil && t.EmployeeID == employeeID && t.RegisterID != nil && *t.RegisterID == registerID {
			if latest == nil || t.ClockIn.After(latest.ClockIn) {
				latest = &t
			}
		}
	}
	return latest, nil
}

// ListTimeTrackingsByRegister lists the entries of a register
func (s *Store) ListTimeTrackingsByRegister(ctx context.Context, registerID string) ([]*repository.TimeTracking, error) {
	return s.selectTimes(func(t repository.TimeTracking) bool {
		return t.RegisterID != nil && *t.RegisterID == registerID
	}), nil
}

// ListClosedTimeTrackings lists closed entries with clock_in in [from, to)
func (s *Store) ListClosedTimeTrackings(ctx context.Context, employeeID string, from, to time.Time) ([]*repository.TimeTracking, error) {
	s.mu.Lock()
	err := s.failure("ListClosedTimeTrackings")
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.selectTimes(func(t repository.TimeTracking) bool {
		return t.EmployeeID == employeeID && t.ClockOut != nil && !t.ClockIn.Before(from) && t.ClockIn.Before(to)
	}), nil
}

func (s *Store) selectTimes(match func(repository.TimeTracking) bool) []*repository.TimeTracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*repository.TimeTracking{}
	for _, t := range s.data.times {
		t := t
		if match(t) {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClockIn.Before(out[j].ClockIn) })
	return out
}

// ============================================================================
// DAYS TRACKINGS
// ============================================================================

// UpsertDaysTracking upserts by (register, employee, date)
func (s *Store) UpsertDaysTracking(ctx context.Context, d *repository.DaysTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertDaysTracking"); err != nil {
		return err
	}
	if err := s.checkRegisterEmployee("days_trackings", d.RegisterID, d.EmployeeID); err != nil {
		return err
	}
	if d.ClockIn != nil && d.ClockOut != nil && *d.ClockOut <= *d.ClockIn {
		return checkError("days_trackings_clock_order")
	}

	now := s.Now()
	for id, existing := range s.data.days {
		if sameRegister(existing.RegisterID, d.RegisterID) && existing.EmployeeID == d.EmployeeID && existing.Date.Equal(d.Date) {
			existing.ClockOut = d.ClockOut
			existing.UpdatedAt = now
			s.data.days[id] = existing
			*d = existing
			return nil
		}
	}

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = now
	d.UpdatedAt = now
	s.data.days[d.ID] = *d
	return nil
}

// CloseDaysTracking sets the clock_out of an open day entry
func (s *Store) CloseDaysTracking(ctx context.Context, d *repository.DaysTracking, clockOut repository.TimeOfDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.data.days[d.ID]
	if !ok || existing.ClockOut != nil {
		return errors.Conflict("day entry is already closed")
	}
	if existing.ClockIn != nil && clockOut <= *existing.ClockIn {
		return checkError("days_trackings_clock_order")
	}
	existing.ClockOut = &clockOut
	existing.UpdatedAt = s.Now()
	s.data.days[d.ID] = existing
	*d = existing
	return nil
}

// GetDaysTracking returns the entry of a date, or nil
func (s *Store) GetDaysTracking(ctx context.Context, registerID, employeeID string, date repository.Date) (*repository.DaysTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.data.days {
		if d.RegisterID != nil && *d.RegisterID == registerID && d.EmployeeID == employeeID && d.Date.Equal(date) {
			return &d, nil
		}
	}
	return nil, nil
}

// ListDaysTrackingsByRegister lists the entries of a register
func (s *Store) ListDaysTrackingsByRegister(ctx context.Context, registerID string) ([]*repository.DaysTracking, error) {
	return s.selectDays(func(d repository.DaysTracking) bool {
		return d.RegisterID != nil && *d.RegisterID == registerID
	}), nil
}

// ListClosedDaysTrackings lists closed day entries in [from, to]
func (s *Store) ListClosedDaysTrackings(ctx context.Context, employeeID string, from, to repository.Date) ([]*repository.DaysTracking, error) {
	return s.selectDays(func(d repository.DaysTracking) bool {
		return d.EmployeeID == employeeID && d.ClockOut != nil && !d.Date.Before(from) && !d.Date.After(to)
	}), nil
}

func (s *Store) selectDays(match func(repository.DaysTracking) bool) []*repository.DaysTracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*repository.DaysTracking{}
	for _, d := range s.data.days {
		d := d
		if match(d) {
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ============================================================================
// PAYROLLS
// ============================================================================

// CreatePending inserts a pending payroll unless the employee has one
func (s *Store) CreatePending(ctx context.Context, p *repository.Payroll) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreatePending"); err != nil {
		return false, err
	}
	for _, existing := range s.data.payrolls {
		if existing.EmployeeID == p.EmployeeID && existing.Status == repository.PayrollStatusPending {
			return false, nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Status = repository.PayrollStatusPending
	p.CreatedAt = s.Now()
	p.UpdatedAt = p.CreatedAt
	p.UpdatedBy = p.CreatedBy
	s.data.payrolls[p.ID] = *p
	return true, nil
}

// GetPendingForUpdate returns the pending payroll of an employee, or nil
func (s *Store) GetPendingForUpdate(ctx context.Context, employeeID string) (*repository.Payroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.data.payrolls {
		if p.EmployeeID == employeeID && p.Status == repository.PayrollStatusPending {
			return &p, nil
		}
	}
	return nil, nil
}

// PayrollView exposes the payroll methods of a Store. Its GetByID returns
// payrolls where Store.GetByID returns employees.
type PayrollView struct {
	*Store
}

// Payrolls returns the payroll view of the store
func (s *Store) Payrolls() PayrollView {
	return PayrollView{s}
}

// GetByID gets a payroll by ID
func (v PayrollView) GetByID(ctx context.Context, id string) (*repository.Payroll, error) {
	return v.payroll(id)
}

// GetByIDForUpdate gets a payroll by ID
func (s *Store) GetByIDForUpdate(ctx context.Context, id string) (*repository.Payroll, error) {
	return s.payroll(id)
}

// Payroll returns a payroll by ID, for assertions
func (s *Store) Payroll(id string) *repository.Payroll {
	p, err := s.payroll(id)
	if err != nil {
		return nil
	}
	return p
}

func (s *Store) payroll(id string) (*repository.Payroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetPayroll"); err != nil {
		return nil, err
	}
	p, ok := s.data.payrolls[id]
	if !ok {
		return nil, errors.NotFound("payroll")
	}
	return &p, nil
}

// UpdateAccrual stores recomputed totals of a pending payroll
func (s *Store) UpdateAccrual(ctx context.Context, p *repository.Payroll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdateAccrual"); err != nil {
		return err
	}
	existing, ok := s.data.payrolls[p.ID]
	if !ok || existing.Status != repository.PayrollStatusPending {
		return errors.Conflict("payroll is no longer pending")
	}
	existing.PeriodStart, existing.PeriodEnd = p.PeriodStart, p.PeriodEnd
	existing.DaysWorked, existing.HoursWorked, existing.Amount = p.DaysWorked, p.HoursWorked, p.Amount
	existing.UpdatedAt = s.Now()
	s.data.payrolls[p.ID] = existing
	p.UpdatedAt = existing.UpdatedAt
	return nil
}

// MarkPaid flips a pending payroll to paid
func (s *Store) MarkPaid(ctx context.Context, p *repository.Payroll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("MarkPaid"); err != nil {
		return err
	}
	existing, ok := s.data.payrolls[p.ID]
	if !ok || existing.Status != repository.PayrollStatusPending {
		return errors.InvalidTransition(string(repository.PayrollStatusPaid), string(repository.PayrollStatusPaid))
	}
	existing.Status = repository.PayrollStatusPaid
	existing.PaymentMethod, existing.PaymentReference, existing.PaidAt = p.PaymentMethod, p.PaymentReference, p.PaidAt
	existing.UpdatedBy = p.UpdatedBy
	existing.UpdatedAt = s.Now()
	s.data.payrolls[p.ID] = existing
	p.Status = existing.Status
	p.UpdatedAt = existing.UpdatedAt
	return nil
}

// List lists the payrolls of a company, newest period first
func (s *Store) List(ctx context.Context, f repository.PayrollFilter) ([]*repository.Payroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*repository.Payroll{}
	for _, p := range s.data.payrolls {
		p := p
		if p.CompanyID != f.CompanyID ||
			(f.EmployeeID != "" && p.EmployeeID != f.EmployeeID) ||
			(f.Status != "" && p.Status != f.Status) {
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// LastPaidAt returns the latest paid_at of the employee's paid payrolls
func (s *Store) LastPaidAt(ctx context.Context, employeeID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LastPaidAt"); err != nil {
		return nil, err
	}
	var last *time.Time
	for _, p := range s.data.payrolls {
		if p.EmployeeID != employeeID || p.Status != repository.PayrollStatusPaid || p.PaidAt == nil {
			continue
		}
		if last == nil || p.PaidAt.After(*last) {
			paidAt := *p.PaidAt
			last = &paidAt
		}
	}
	return last, nil
}

// Pending returns every pending payroll of an employee
func (s *Store) Pending(employeeID string) []repository.Payroll {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.Payroll
	for _, p := range s.data.payrolls {
		if p.EmployeeID == employeeID && p.Status == repository.PayrollStatusPending {
			out = append(out, p)
		}
	}
	return out
}

// Report aggregates payrolls overlapping [start, end] per employee
func (s *Store) Report(ctx context.Context, companyID string, start, end repository.Date) ([]*repository.PayrollReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := map[string]*repository.PayrollReportRow{}
	for _, p := range s.data.payrolls {
		if p.CompanyID != companyID || p.PeriodStart.After(end) || p.PeriodEnd.Before(start) {
			continue
		}
		row, ok := rows[p.EmployeeID]
		if !ok {
			emp := s.data.employees[p.EmployeeID]
			row = &repository.PayrollReportRow{
				EmployeeID:   p.EmployeeID,
				EmployeeName: emp.FullName(),
				PaymentType:  emp.PaymentType,
			}
			rows[p.EmployeeID] = row
		}
		row.Payrolls++
		row.DaysWorked += p.DaysWorked
		row.HoursWorked = row.HoursWorked.Add(p.HoursWorked)
		if p.Status == repository.PayrollStatusPaid {
			row.AmountPaid = row.AmountPaid.Add(p.Amount)
		} else {
			row.AmountPending = row.AmountPending.Add(p.Amount)
		}
	}

	out := make([]*repository.PayrollReportRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeName < out[j].EmployeeName })
	return out, nil
}

// ============================================================================
// HISTORY
// ============================================================================

// UpsertHistory records a payment, adding to an existing amount_paid
func (s *Store) UpsertHistory(ctx context.Context, h *repository.PayrollHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertHistory"); err != nil {
		return err
	}
	now := s.Now()
	if existing, ok := s.data.histories[h.PayrollID]; ok {
		existing.AmountPaid = existing.AmountPaid.Add(h.AmountPaid)
		existing.PaymentDate = h.PaymentDate
		existing.UpdatedAt = now
		s.data.histories[h.PayrollID] = existing
		*h = existing
		return nil
	}
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	h.CreatedAt = now
	h.UpdatedAt = now
	s.data.histories[h.PayrollID] = *h
	return nil
}

// GetHistory returns the payment history of a payroll
func (s *Store) GetHistory(ctx context.Context, payrollID string) (*repository.PayrollHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.data.histories[payrollID]
	if !ok {
		return nil, errors.NotFound("payroll history")
	}
	return &h, nil
}

func sameRegister(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func fkError(constraint string) error {
	return &pq.Error{Code: "23503", Constraint: constraint, Message: fmt.Sprintf("violates foreign key constraint %q", constraint)}
}

func checkError(constraint string) error {
	return &pq.Error{Code: "23514", Constraint: constraint, Message: fmt.Sprintf("violates check constraint %q", constraint)}
}
