package handler

import (
	"net/http"

	"github.com/luizmoretti/erp-backend/internal/attendance/service"
	"github.com/luizmoretti/erp-backend/internal/attendance/validation"
	"github.com/luizmoretti/erp-backend/pkg/actor"
	"github.com/luizmoretti/erp-backend/pkg/httputil"
	"github.com/luizmoretti/erp-backend/pkg/logger"
)

// AttendanceHandler handles attendance register endpoints
type AttendanceHandler struct {
	service *service.AttendanceService
	logger  *logger.Logger
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(svc *service.AttendanceService, log *logger.Logger) *AttendanceHandler {
	return &AttendanceHandler{
		service: svc,
		logger:  log,
	}
}

// AttendanceRequest is the body of create and update
type AttendanceRequest struct {
	Employee string                 `json:"employee" validate:"omitempty,uuid"`
	WorkData []validation.WorkEntry `json:"work_data"`
}

// ClockRequest is the body of a kiosk clock operation
type ClockRequest struct {
	AccessCode int `json:"access_code" validate:"required"`
}

// AccessCodeRequest asks for a new kiosk register
type AccessCodeRequest struct {
	Employee string `json:"employee" validate:"required,uuid"`
}

func (req AttendanceRequest) input() service.AttendanceInput {
	return service.AttendanceInput{EmployeeID: req.Employee, WorkData: req.WorkData}
}

// Create creates a register with its entries
// POST /attendance/create/
func (h *AttendanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	detail, err := h.service.CreateAttendance(r.Context(), actor.FromContext(r.Context()), req.input())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, detail)
}

// Update upserts the entries of a register
// PUT /attendance/update/{id}/
func (h *AttendanceHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// Patch is Update without requiring work_data
// PATCH /attendance/update/{id}/
func (h *AttendanceHandler) Patch(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *AttendanceHandler) update(w http.ResponseWriter, r *http.Request, partial bool) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req AttendanceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	detail, err := h.service.UpdateAttendance(r.Context(), actor.FromContext(r.Context()), id, req.input(), partial)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}

// Get returns a register with its entries
// GET /attendance/{id}/
func (h *AttendanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	detail, err := h.service.GetAttendance(r.Context(), actor.FromContext(r.Context()), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, detail)
}

// Clock clocks in or out with a kiosk access code
// POST /attendance/clock/
func (h *AttendanceHandler) Clock(w http.ResponseWriter, r *http.Request) {
	var req ClockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.ClockInOutWithCode(r.Context(), req.AccessCode)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("request_id", httputil.GetRequestID(r.Context())).
			Int("access_code", req.AccessCode).
			Msg("clock request rejected")
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// IssueAccessCode opens a kiosk register for an employee
// POST /attendance/access-code/
func (h *AttendanceHandler) IssueAccessCode(w http.ResponseWriter, r *http.Request) {
	var req AccessCodeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	reg, err := h.service.IssueAccessCode(r.Context(), actor.FromContext(r.Context()), req.Employee)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, reg)
}
