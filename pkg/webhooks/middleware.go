package webhooks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/httpapi"
)

const defaultMaxBodyBytes = 64 * 1024

var (
	ErrReplayDetected = errors.New("webhook replay detected")
	errBodyTooLarge   = errors.New("webhook payload too large")
)

type SignatureVerifier interface {
	Verify(ctx context.Context, r *http.Request, body []byte) error
}

type ReplayProtector interface {
	Check(ctx context.Context, r *http.Request, body []byte) error
}

type Option func(*options)

type options struct {
	maxBodyBytes int64
}

func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// Bind mounts a subrouter under prefix whose handlers only see verified,
// first-seen deliveries.
func Bind(router *mux.Router, prefix string, verifier SignatureVerifier, protector ReplayProtector, opts ...Option) *mux.Router {
	if strings.TrimSpace(prefix) == "" {
		prefix = "/webhooks"
	}
	sub := router.PathPrefix(prefix).Subrouter()
	sub.Use(Middleware(verifier, protector, opts...))
	return sub
}

func Middleware(verifier SignatureVerifier, protector ReplayProtector, opts ...Option) mux.MiddlewareFunc {
	resolved := options{maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&resolved)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil || protector == nil {
				_ = httpapi.WriteError(w, http.StatusInternalServerError, "WEBHOOK_MISCONFIGURED", "webhook middleware misconfigured", nil)
				return
			}

			body, err := readAndRestoreBody(r, resolved.maxBodyBytes)
			if err != nil {
				status, code := http.StatusBadRequest, "WEBHOOK_BAD_REQUEST"
				if errors.Is(err, errBodyTooLarge) {
					status, code = http.StatusRequestEntityTooLarge, "WEBHOOK_PAYLOAD_TOO_LARGE"
				}
				_ = httpapi.WriteError(w, status, code, "invalid webhook payload", map[string]string{"error": err.Error()})
				return
			}

			if err := verifier.Verify(r.Context(), r, body); err != nil {
				_ = httpapi.WriteError(w, http.StatusUnauthorized, "WEBHOOK_UNAUTHORIZED", "invalid webhook signature", map[string]string{"error": err.Error()})
				return
			}

			if err := protector.Check(r.Context(), r, body); err != nil {
				if errors.Is(err, ErrReplayDetected) {
					_ = httpapi.WriteError(w, http.StatusConflict, "WEBHOOK_REPLAY", "webhook replay detected", nil)
					return
				}
				_ = httpapi.WriteError(w, http.StatusBadRequest, "WEBHOOK_BAD_REQUEST", "invalid webhook payload", map[string]string{"error": err.Error()})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func readAndRestoreBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}
