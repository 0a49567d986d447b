package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

// ServiceError carries the HTTP status and stable code for a failure. Cause
// keeps the domain sentinel so errors.Is still works across the boundary.
type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

// mapError turns domain and storage failures into ServiceErrors. Errors that
// are already ServiceErrors, and NoAvailableTechnician, pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	switch {
	case errors.Is(err, dispatch.ErrNoAvailableTechnician):
		return err
	case errors.Is(err, serrors.ErrValidation):
		return newServiceError(http.StatusBadRequest, "MAINT_INVALID_BODY", "invalid request body", err)
	case errors.Is(err, request.ErrNotFound):
		return newServiceError(http.StatusNotFound, request.ErrNotFound.Code, "maintenance request not found", err)
	case errors.Is(err, technician.ErrNotFound):
		return newServiceError(http.StatusNotFound, technician.ErrNotFound.Code, "technician not found", err)
	case errors.Is(err, request.ErrStaleVersion):
		recordWriteConflict("stale_version")
		return newServiceError(http.StatusConflict, request.ErrStaleVersion.Code, "request was modified concurrently; re-read and retry", err)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return newServiceError(http.StatusConflict, lifecycle.ErrInvalidTransition.Code, explain(err, "transition is not allowed from the current status"), err)
	case errors.Is(err, lifecycle.ErrForbidden):
		return newServiceError(http.StatusForbidden, lifecycle.ErrForbidden.Code, explain(err, "role may not perform this action"), err)
	case errors.Is(err, technician.ErrNoCapacity):
		recordWriteConflict("capacity")
		return newServiceError(http.StatusConflict, technician.ErrNoCapacity.Code, "technician has no free capacity", err)
	case errors.Is(err, sla.ErrPolicyNotFound):
		return newServiceError(http.StatusInternalServerError, sla.ErrPolicyNotFound.Code, "no SLA policy configured for this priority", err)
	case errors.Is(err, audit.ErrBrokenSequence):
		return newServiceError(http.StatusInternalServerError, audit.ErrBrokenSequence.Code, "audit trail is corrupted", err)
	}
	return mapPgErrorToServiceError(err)
}

// explain renders the template data attached to a lifecycle error into a
// human readable reason.
func explain(err error, fallback string) string {
	var base *serrors.BaseError
	if !errors.As(err, &base) || len(base.TemplateData) == 0 {
		return fallback
	}
	d := base.TemplateData
	switch {
	case d["reason"] != "" && d["to"] != "":
		return fmt.Sprintf("cannot move from %s to %s: %s", d["from"], d["to"], d["reason"])
	case d["reason"] != "" && d["action"] != "":
		return fmt.Sprintf("cannot %s while %s: %s", d["action"], d["from"], d["reason"])
	case d["role"] != "":
		return fmt.Sprintf("role %s may not %s while %s", d["role"], d["action"], d["from"])
	}
	return fallback
}

func mapPgErrorToServiceError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, "MAINT_NOT_FOUND", "not found", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		return newServiceError(http.StatusConflict, "MAINT_CONFLICT", "unique constraint violated", err)
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		return newServiceError(http.StatusUnprocessableEntity, "MAINT_REFERENCE_NOT_FOUND", "referenced row not found", err)
	case "23514": // check_violation
		recordWriteConflict("check")
		return newServiceError(http.StatusConflict, "MAINT_CONSTRAINT", "check constraint violated", err)
	case "40001": // serialization_failure
		recordWriteConflict("serialization")
		return newServiceError(http.StatusConflict, request.ErrStaleVersion.Code, "request was modified concurrently; re-read and retry", err)
	default:
		return newServiceError(http.StatusInternalServerError, "MAINT_INTERNAL", fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
