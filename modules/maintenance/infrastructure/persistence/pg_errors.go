package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	auditVersionConstraint = "maintenance_request_audit_request_version_key"
	technicianCapacity     = "maintenance_technicians_capacity"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isConstraintViolation(err error, code, constraint string) bool {
	pgErr, ok := pgError(err)
	if !ok {
		return false
	}
	return pgErr.Code == code && (constraint == "" || pgErr.ConstraintName == constraint)
}
