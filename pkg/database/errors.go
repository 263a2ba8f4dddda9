package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/luizmoretti/erp-backend/pkg/errors"
)

// PostgreSQL error codes handled by MapPQError
const (
	codeCheckViolation      = "23514"
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
)

// IsUniqueViolation reports whether err is a unique violation, optionally on
// the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case codeCheckViolation:
		return mapCheckConstraint(pqErr)

	case codeUniqueViolation:
		return errors.Conflict(formatConstraintMessage(pqErr))

	case codeForeignKeyViolation:
		if strings.Contains(pqErr.Constraint, "register_employee") {
			return errors.Validation(map[string]string{
				"employee": "must match the attendance register employee",
			})
		}
		if strings.Contains(pqErr.Constraint, "employee") {
			return errors.NotFound("employee")
		}
		return errors.BadRequest("referenced record does not exist")

	case codeNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "access_code_range"):
		return errors.Validation(map[string]string{
			"access_code": "must be a 6-digit number",
		})
	case strings.Contains(constraint, "clock_order"):
		return errors.Validation(map[string]string{
			"clock_out": "must be after clock_in",
		})
	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: pending, paid",
		})
	case strings.Contains(constraint, "payment_type_valid"):
		return errors.Validation(map[string]string{
			"payment_type": "must be one of: hour, day",
		})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "access_code"):
		return "an attendance register with this access code already exists"
	case strings.Contains(constraint, "one_pending"):
		return "employee already has a pending payroll"
	case strings.Contains(constraint, "payroll_histories"):
		return "payment history already recorded for this payroll"
	default:
		return "a record with these values already exists"
	}
}
