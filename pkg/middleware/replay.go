package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type ReplayProtectionOptions struct {
	// PathPrefixes limits protection to POSTs under these prefixes.
	PathPrefixes []string

	TTL          time.Duration
	MaxBodyBytes int64
}

type replayProtector struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newReplayProtector() *replayProtector {
	return &replayProtector{
		seen: make(map[string]time.Time),
	}
}

func (p *replayProtector) isSeen(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, exp := range p.seen {
		if !now.Before(exp) {
			delete(p.seen, k)
		}
	}

	exp, ok := p.seen[key]
	if !ok {
		return false
	}
	return now.Before(exp)
}

func (p *replayProtector) mark(key string, exp time.Time) {
	p.mu.Lock()
	p.seen[key] = exp
	p.mu.Unlock()
}

type statusCaptureWriter struct {
	http.ResponseWriter
	statusCode    int
	statusWritten bool
}

func (w *statusCaptureWriter) WriteHeader(code int) {
	if !w.statusWritten {
		w.statusCode = code
		w.statusWritten = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCaptureWriter) Write(p []byte) (int, error) {
	if !w.statusWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusCaptureWriter) Status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

// ReplayProtection rejects a POST carrying an Idempotency-Key when an
// identical (path + key + body) request already succeeded within the TTL.
// Requests without the header pass through untouched.
func ReplayProtection(opts ReplayProtectionOptions) mux.MiddlewareFunc {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20 // 1 MiB
	}
	protector := newReplayProtector()

	protected := func(path string) bool {
		for _, prefix := range opts.PathPrefixes {
			if prefix != "" && strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idempotencyKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if r.Method != http.MethodPost || idempotencyKey == "" || !protected(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var body []byte
			if r.Body != nil {
				limited := io.LimitReader(r.Body, opts.MaxBodyBytes+1)
				b, readErr := io.ReadAll(limited)
				if readErr != nil {
					http.Error(w, "failed to read request body", http.StatusBadRequest)
					return
				}
				if int64(len(b)) > opts.MaxBodyBytes {
					http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				body = b
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			sum := sha256.Sum256(append([]byte(r.URL.Path+"\n"+idempotencyKey+"\n"), body...))
			key := hex.EncodeToString(sum[:])

			now := time.Now()
			if protector.isSeen(key, now) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":    "MAINT_DUPLICATE_SUBMISSION",
					"message": "request with this Idempotency-Key was already accepted",
				})
				return
			}

			captured := &statusCaptureWriter{ResponseWriter: w}
			next.ServeHTTP(captured, r)

			status := captured.Status()
			if status >= 200 && status < 300 {
				protector.mark(key, now.Add(opts.TTL))
			}
		})
	}
}
