package handler

import (
	"fmt"
	"net/http"

	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/internal/attendance/service"
	"github.com/luizmoretti/erp-backend/internal/attendance/validation"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/httputil"
	"github.com/luizmoretti/erp-backend/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PayrollHandler handles payroll endpoints
type PayrollHandler struct {
	service *service.PayrollService
	logger  *logger.Logger
}

// NewPayrollHandler creates a new payroll handler
func NewPayrollHandler(svc *service.PayrollService, log *logger.Logger) *PayrollHandler {
	return &PayrollHandler{
		service: svc,
		logger:  log,
	}
}

// BatchPayRequest pays several payrolls with the same payment data
type BatchPayRequest struct {
	PayrollIDs []string `json:"payroll_ids" validate:"required,min=1,dive,uuid"`
	validation.PaymentData
}

// StatusRequest moves a payroll to another status
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
	validation.PaymentData
}

// List lists payrolls, filtered by employee_id and status
// GET /payroll/
func (h *PayrollHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(r, "limit")
	if err != nil {
		httputil.Error(w, err)
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	filter := repository.PayrollFilter{
		EmployeeID: q.Get("employee_id"),
		Status:     repository.PayrollStatus(q.Get("status")),
		Limit:      limit,
		Offset:     offset,
	}
	if err := validateStatusFilter(filter.Status); err != nil {
		httputil.Error(w, err)
		return
	}

	payrolls, err := h.service.List(r.Context(), actor.FromContext(r.Context()), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, payrolls)
}

func validateStatusFilter(status repository.PayrollStatus) error {
	switch status {
	case "", repository.PayrollStatusPending, repository.PayrollStatusPaid:
		return nil
	}
	return errors.Validation(map[string]string{"status": "must be one of: pending, paid"})
}

// Get returns a payroll
// GET /payroll/{id}/
func (h *PayrollHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	p, err := h.service.Get(r.Context(), actor.FromContext(r.Context()), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, p)
}

// History returns the payment history of a payroll
// GET /payroll/{id}/history/
func (h *PayrollHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	history, err := h.service.History(r.Context(), actor.FromContext(r.Context()), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, history)
}

// Pay pays a pending payroll and opens the next cycle
// POST /payroll/{id}/pay/
func (h *PayrollHandler) Pay(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req validation.PaymentData
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.ProcessPayment(r.Context(), actor.FromContext(r.Context()), id, req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// BatchPay pays every listed payroll independently
// POST /payroll/batch-pay/
func (h *PayrollHandler) BatchPay(w http.ResponseWriter, r *http.Request) {
	var req BatchPayRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.service.BatchProcessPayments(r.Context(), actor.FromContext(r.Context()), req.PayrollIDs, req.PaymentData)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// UpdateStatus moves a payroll to another status
// PATCH /payroll/{id}/status/
func (h *PayrollHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req StatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.UpdateStatus(r.Context(), actor.FromContext(r.Context()), id, repository.PayrollStatus(req.Status), req.PaymentData)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Report aggregates payrolls per employee, as JSON or XLSX
// GET /payroll/report/?start_date=&end_date=[&format=xlsx]
func (h *PayrollHandler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start_date"), q.Get("end_date")
	a := actor.FromContext(r.Context())

	switch q.Get("format") {
	case "", "json":
		report, err := h.service.Report(r.Context(), a, start, end)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, report)

	case "xlsx":
		data, report, err := h.service.ExportReport(r.Context(), a, start, end)
		if err != nil {
			httputil.Error(w, err)
			return
		}

		filename := fmt.Sprintf("payroll-report-%s-%s.xlsx", report.StartDate, report.EndDate)
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
		w.Write(data)

	default:
		httputil.Error(w, errors.Validation(map[string]string{"format": "must be one of: json, xlsx"}))
	}
}
