package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/luizmoretti/erp-backend/pkg/errors"
	"github.com/luizmoretti/erp-backend/pkg/httputil"
	"github.com/luizmoretti/erp-backend/pkg/messaging"
	"github.com/luizmoretti/erp-backend/pkg/permissions"
)

// Register mounts the attendance and payroll routes under /api/v1.
// The kiosk clock endpoint is authenticated by its access code only.
func Register(r chi.Router, attendance *AttendanceHandler, payroll *PayrollHandler, authenticate func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(correlate)
		r.Post("/attendance/clock/", attendance.Clock)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequirePermission(permissions.AttendanceWrite))
				r.Post("/attendance/create/", attendance.Create)
				r.Put("/attendance/update/{id}/", attendance.Update)
				r.Patch("/attendance/update/{id}/", attendance.Patch)
				r.Post("/attendance/access-code/", attendance.IssueAccessCode)
			})
			r.With(httputil.RequirePermission(permissions.AttendanceRead)).Get("/attendance/{id}/", attendance.Get)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequirePermission(permissions.PayrollRead))
				r.Get("/payroll/", payroll.List)
				r.Get("/payroll/{id}/", payroll.Get)
				r.Get("/payroll/{id}/history/", payroll.History)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequirePermission(permissions.PayrollPay))
				r.Post("/payroll/{id}/pay/", payroll.Pay)
				r.Post("/payroll/batch-pay/", payroll.BatchPay)
				r.Patch("/payroll/{id}/status/", payroll.UpdateStatus)
			})

			r.With(httputil.RequirePermission(permissions.PayrollReport)).Get("/payroll/report/", payroll.Report)
		})
	})
}

// correlate tags events published while serving the request with its request id
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := httputil.GetRequestID(r.Context()); id != "" {
			r = r.WithContext(messaging.WithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// idParam returns the {id} URL parameter when it is a UUID
func idParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.Validation(map[string]string{"id": "must be a valid UUID"})
	}
	return id, nil
}

// intQuery parses an optional non-negative integer query parameter
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Validation(map[string]string{name: "must be a non-negative integer"})
	}
	return n, nil
}
