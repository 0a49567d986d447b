package services

import (
	"errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid transition", lifecycle.ErrInvalidTransition, http.StatusConflict, "MAINT_INVALID_TRANSITION"},
		{"forbidden", lifecycle.ErrForbidden, http.StatusForbidden, "MAINT_FORBIDDEN"},
		{"stale", request.ErrStaleVersion, http.StatusConflict, "MAINT_STALE_VERSION"},
		{"no rows", pgx.ErrNoRows, http.StatusNotFound, "MAINT_NOT_FOUND"},
		{"unique", &pgconn.PgError{Code: "23505"}, http.StatusConflict, "MAINT_CONFLICT"},
		{"serialization", &pgconn.PgError{Code: "40001"}, http.StatusConflict, "MAINT_STALE_VERSION"},
		{"other pg", &pgconn.PgError{Code: "XX000"}, http.StatusInternalServerError, "MAINT_INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapError(tc.err)
			var svcErr *ServiceError
			require.True(t, errors.As(err, &svcErr))
			require.Equal(t, tc.status, svcErr.Status)
			require.Equal(t, tc.code, svcErr.Code)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	require.NoError(t, mapError(nil))
	require.Same(t, dispatch.ErrNoAvailableTechnician, mapError(dispatch.ErrNoAvailableTechnician))

	plain := errors.New("boom")
	require.Equal(t, plain, mapError(plain))

	once := mapError(request.ErrStaleVersion)
	require.Equal(t, once, mapError(once))
}

func TestMapError_ExplainsTransition(t *testing.T) {
	err := mapError(lifecycle.ErrInvalidTransition.WithTemplateData(map[string]string{
		"from": "completed", "to": "open", "reason": "status is terminal",
	}))
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	require.Equal(t, "cannot move from completed to open: status is terminal", svcErr.Message)
}
