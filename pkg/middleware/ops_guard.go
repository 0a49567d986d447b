package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gorilla/mux"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

const OpsTokenHeader = "X-Ops-Token"

// OpsGuardOptions protects operational endpoints such as the metrics scrape.
type OpsGuardOptions struct {
	Enabled      bool
	PathPrefixes []string
	// CIDRs is a comma, semicolon or whitespace separated list.
	CIDRs         string
	Token         string
	BasicAuthUser string
	BasicAuthPass string
	RealIPHeader  string
}

type accessCheck func(*http.Request) bool

// OpsGuard answers 404 for guarded paths unless the caller matches an allowed
// CIDR, presents the ops token or passes basic auth. With no check
// configured every guarded request is hidden.
func OpsGuard(opts OpsGuardOptions) mux.MiddlewareFunc {
	checks := opsChecks(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opts.Enabled || !hasAnyPrefix(r.URL.Path, opts.PathPrefixes) {
				next.ServeHTTP(w, r)
				return
			}
			for _, allowed := range checks {
				if allowed(r) {
					next.ServeHTTP(w, r)
					return
				}
			}
			composables.UseLogger(r.Context()).WithField("component", "ops_guard").Warn("guarded path denied")
			http.NotFound(w, r)
		})
	}
}

func opsChecks(opts OpsGuardOptions) []accessCheck {
	var checks []accessCheck
	if prefixes := parseCIDRs(opts.CIDRs); len(prefixes) > 0 {
		header := opts.RealIPHeader
		checks = append(checks, func(r *http.Request) bool {
			addr, ok := clientAddr(r, header)
			if !ok {
				return false
			}
			for _, p := range prefixes {
				if p.Contains(addr) {
					return true
				}
			}
			return false
		})
	}
	if token := strings.TrimSpace(opts.Token); token != "" {
		checks = append(checks, func(r *http.Request) bool {
			return constantTimeEqual(bearerOrOpsToken(r), token)
		})
	}
	if opts.BasicAuthUser != "" || opts.BasicAuthPass != "" {
		checks = append(checks, func(r *http.Request) bool {
			u, p, ok := r.BasicAuth()
			userOK := constantTimeEqual(u, opts.BasicAuthUser)
			passOK := constantTimeEqual(p, opts.BasicAuthPass)
			return ok && userOK && passOK
		})
	}
	return checks
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// parseCIDRs skips entries that are not valid prefixes.
func parseCIDRs(raw string) []netip.Prefix {
	var out []netip.Prefix
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	}) {
		if p, err := netip.ParsePrefix(part); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func bearerOrOpsToken(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(OpsTokenHeader)); t != "" {
		return t
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

// clientAddr prefers the first entry of the real-IP header over RemoteAddr.
func clientAddr(r *http.Request, header string) (netip.Addr, bool) {
	raw := r.RemoteAddr
	if header != "" {
		if v := r.Header.Get(header); v != "" {
			raw, _, _ = strings.Cut(v, ",")
		}
	}
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
