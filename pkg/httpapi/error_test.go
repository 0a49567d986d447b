package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

func TestErrorEnvelope_Write(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	err := NewError("MAINT_VALIDATION", "validation failed").
		WithRequestID("req-1").
		WithFields(serrors.ValidationErrors{"priority": "must be one of low medium high urgent"}).
		WithMeta("ignored", "").
		Write(rec, http.StatusBadRequest)
	require.NoError(t, err)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var got ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "MAINT_VALIDATION", got.Code)
	require.Equal(t, map[string]string{
		"request_id":     "req-1",
		"field.priority": "must be one of low medium high urgent",
	}, got.Meta)
}

func TestErrorEnvelope_OmitsEmptyMeta(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, http.StatusNotFound, CodeNotFound, "route not found", map[string]string{"request_id": ""}))
	require.JSONEq(t, `{"code":"NOT_FOUND","message":"route not found"}`, rec.Body.String())
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	err := WriteJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteJSON_NilWriter(t *testing.T) {
	t.Parallel()

	require.NoError(t, WriteJSON(nil, http.StatusOK, map[string]string{"ok": "yes"}))
}
