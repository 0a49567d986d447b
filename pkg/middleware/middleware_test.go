package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/intl"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWithLogger_BindsRequestIDAndRecovers(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	var seenID string
	r := mux.NewRouter()
	r.Use(WithLogger(logger, DefaultLoggerOptions()))
	r.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		seenID = composables.UseRequestID(r.Context())
		composables.UseLogger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusAccepted)
	})
	r.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "req-42")
	req.Header.Set("X-Actor-Role", "dispatcher")
	rec := serve(r, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "req-42", seenID)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))

	var inside *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "inside" {
			inside = e
		}
	}
	require.NotNil(t, inside)
	assert.Equal(t, "req-42", inside.Data["request-id"])
	assert.Equal(t, "dispatcher", inside.Data["actor-role"])
	assert.NotContains(t, inside.Data, "actor-id")

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestOpsGuard(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := OpsGuard(OpsGuardOptions{
		Enabled:      true,
		PathPrefixes: []string{"/debug/"},
		CIDRs:        "10.0.0.0/8",
		Token:        "s3cret",
	})(ok)

	cases := []struct {
		name   string
		path   string
		remote string
		token  string
		want   int
	}{
		{"unguarded path", "/maintenance/api/requests", "1.2.3.4:1000", "", http.StatusOK},
		{"guarded without credentials", "/debug/prometheus", "1.2.3.4:1000", "", http.StatusNotFound},
		{"guarded from allowed network", "/debug/prometheus", "10.1.2.3:1000", "", http.StatusOK},
		{"guarded with token", "/debug/prometheus", "1.2.3.4:1000", "s3cret", http.StatusOK},
		{"guarded with wrong token", "/debug/prometheus", "1.2.3.4:1000", "nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.RemoteAddr = tc.remote
			if tc.token != "" {
				req.Header.Set("X-Ops-Token", tc.token)
			}
			assert.Equal(t, tc.want, serve(h, req).Code)
		})
	}
}

func TestReplayProtection(t *testing.T) {
	calls := 0
	h := ReplayProtection(ReplayProtectionOptions{PathPrefixes: []string{"/maintenance/api/requests"}})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			w.WriteHeader(http.StatusCreated)
		}),
	)
	post := func(key, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/maintenance/api/requests", bytes.NewBufferString(body))
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		return serve(h, req).Code
	}

	assert.Equal(t, http.StatusCreated, post("k1", `{"a":1}`))
	assert.Equal(t, http.StatusConflict, post("k1", `{"a":1}`))
	assert.Equal(t, http.StatusCreated, post("k2", `{"a":1}`))
	assert.Equal(t, http.StatusCreated, post("", `{"a":1}`))
	assert.Equal(t, http.StatusCreated, post("", `{"a":1}`))
	assert.Equal(t, 4, calls)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestsPerPeriod: 2, Store: NewMemoryStore()})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		codes = append(codes, serve(h, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	disabled := RateLimit(RateLimitConfig{})(http.NotFoundHandler())
	assert.Equal(t, http.StatusNotFound, serve(disabled, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestCors_Preflight(t *testing.T) {
	h := Cors("http://localhost:3000")(http.NotFoundHandler())
	cases := []struct {
		name    string
		headers string
		want    string
	}{
		{"lowercase list as browsers send it", "content-type,idempotency-key,x-actor-role", "http://localhost:3000"},
		{"single actor header", "x-actor-role", "http://localhost:3000"},
		{"mixed case is not matched", "Content-Type", ""},
		{"unknown header", "x-tenant", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/maintenance/api/requests", nil)
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", tc.headers)
			rec := serve(h, req)
			assert.Equal(t, tc.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestWithLocale(t *testing.T) {
	var got language.Tag
	h := WithLocale(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = intl.UseLocale(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ar-EG,ar;q=0.9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, language.Arabic, got)
	require.Equal(t, "ar", rec.Header().Get("Content-Language"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, language.English, got)
}
