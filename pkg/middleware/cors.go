package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func Cors(allowOrigins ...string) mux.MiddlewareFunc {
	c := cors.New(cors.Options{
		AllowedOrigins: allowOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-Request-ID",
			"X-Actor-ID",
			"X-Actor-Role",
			IdempotencyKeyHeader,
		},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
	})
	return c.Handler
}
