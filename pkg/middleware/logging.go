package middleware

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/httpapi"
)

var tracer = otel.Tracer("maintenance-middleware")

type LoggerOptions struct {
	// LogRequestBody logs JSON bodies of mutating requests at debug level.
	LogRequestBody bool
	MaxBodyLength  int

	RequestIDHeader string
	RealIPHeader    string
	// FieldHeaders copies request headers into the request logger,
	// keyed by log field name.
	FieldHeaders map[string]string
	Repanic      bool
}

func DefaultLoggerOptions() LoggerOptions {
	return LoggerOptions{
		LogRequestBody:  true,
		MaxBodyLength:   512,
		RequestIDHeader: "X-Request-ID",
		RealIPHeader:    "X-Real-IP",
		FieldHeaders: map[string]string{
			"actor-id":   "X-Actor-ID",
			"actor-role": "X-Actor-Role",
		},
	}
}

// statusWriter records the first status code written. It keeps Flush and
// Hijack reachable for the websocket stream.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer cannot be hijacked")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func headerOr(r *http.Request, header, fallback string) string {
	if header != "" {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	return fallback
}

func TracedMiddleware(name string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "middleware."+name, trace.WithAttributes(
				attribute.String("middleware.name", name),
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
			))
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// logRequestBody logs a JSON body of a mutating request and rewinds it for
// the handler.
func logRequestBody(entry *logrus.Entry, r *http.Request, limit int) error {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}
	if r.Body == nil || !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if limit > 0 && len(body) > limit {
		entry.WithField("request-body", string(body[:limit])+"...").Debug("request body")
		return nil
	}
	entry.WithField("request-body", string(body)).Debug("request body")
	return nil
}

// WithLogger opens the root span, binds a request-scoped logger and request
// id to the context and recovers panics into a JSON 500.
func WithLogger(logger *logrus.Logger, opts LoggerOptions) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := headerOr(r, opts.RequestIDHeader, "")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			realIP := headerOr(r, opts.RealIPHeader, r.RemoteAddr)

			fields := logrus.Fields{
				"request-id": requestID,
				"path":       r.URL.Path,
				"method":     r.Method,
			}
			for field, header := range opts.FieldHeaders {
				if v := r.Header.Get(header); v != "" {
					fields[field] = v
				}
			}
			entry := logger.WithFields(fields)

			propagator := propagation.TraceContext{}
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, "http.request", trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.String("http.request_id", requestID),
				attribute.String("net.peer.ip", realIP),
			))
			defer span.End()

			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			if sc := span.SpanContext(); sc.HasTraceID() {
				w.Header().Set("X-Trace-Id", sc.TraceID().String())
				entry = entry.WithField("trace-id", sc.TraceID().String())
			}
			w.Header().Set("X-Request-Id", requestID)

			entry.WithFields(logrus.Fields{"ip": realIP, "user-agent": r.UserAgent()}).Info("request started")
			if opts.LogRequestBody {
				if err := logRequestBody(entry, r, opts.MaxBodyLength); err != nil {
					entry.WithError(err).Warn("failed to read request body")
					_ = httpapi.NewError(httpapi.CodeBadRequest, "failed to read request body").WithRequestID(requestID).Write(w, http.StatusBadRequest)
					return
				}
			}

			ctx = composables.WithLogger(ctx, entry)
			ctx = composables.WithRequestID(ctx, requestID)
			sw := &statusWriter{ResponseWriter: w}

			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				entry.WithFields(logrus.Fields{
					"panic":    recovered,
					"stack":    string(debug.Stack()),
					"duration": time.Since(start),
				}).Error("panic recovered in request handler")
				span.SetStatus(codes.Error, "panic")
				if sw.status == 0 {
					_ = httpapi.NewError(httpapi.CodeInternal, "internal server error").WithRequestID(requestID).Write(sw, http.StatusInternalServerError)
				}
				if opts.Repanic {
					panic(recovered)
				}
			}()

			next.ServeHTTP(sw, r.WithContext(ctx))

			status := sw.Status()
			duration := time.Since(start)
			entry.WithFields(logrus.Fields{
				"duration":     duration,
				"status-code":  status,
				"status-class": status / 100,
			}).Info("request completed")
			span.SetAttributes(
				attribute.Int64("http.request_duration_ms", duration.Milliseconds()),
				attribute.Int("http.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}
