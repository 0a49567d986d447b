package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

// WithPool binds the pool to every request context so repositories can open
// their own transactions. A nil pool leaves the context untouched.
func WithPool(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if pool == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(composables.WithPool(r.Context(), pool)))
		})
	}
}
