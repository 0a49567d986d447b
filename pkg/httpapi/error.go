package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

// Codes shared by routes outside a module namespace.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

const MetaRequestID = "request_id"

// ErrorEnvelope is the body of every non-2xx JSON response. Module codes
// such as MAINT_STALE_VERSION travel in Code; Meta carries the request id
// and per-field validation reasons.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func NewError(code, message string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: message}
}

// WithMeta sets key unless value is empty.
func (e *ErrorEnvelope) WithMeta(key, value string) *ErrorEnvelope {
	if value == "" {
		return e
	}
	if e.Meta == nil {
		e.Meta = map[string]string{}
	}
	e.Meta[key] = value
	return e
}

func (e *ErrorEnvelope) WithRequestID(id string) *ErrorEnvelope {
	return e.WithMeta(MetaRequestID, id)
}

// WithFields copies validation failures into Meta as "field.<name>".
func (e *ErrorEnvelope) WithFields(fields serrors.ValidationErrors) *ErrorEnvelope {
	for field, reason := range fields {
		e.WithMeta("field."+field, reason)
	}
	return e
}

func (e *ErrorEnvelope) Write(w http.ResponseWriter, status int) error {
	return WriteJSON(w, status, e)
}

// WriteJSON encodes payload before the status line goes out, so a payload
// that fails to encode still yields a plain 500.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
			return err
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	e := NewError(code, message)
	for k, v := range meta {
		e.WithMeta(k, v)
	}
	return e.Write(w, status)
}
