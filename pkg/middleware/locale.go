package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/text/language"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/intl"
)

// WithLocale resolves the request language from Accept-Language against
// supported and stores it on the context.
func WithLocale(supported []language.Tag) mux.MiddlewareFunc {
	if len(supported) == 0 {
		supported = intl.Tags(intl.GetSupportedLanguages(nil))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := intl.MatchAcceptLanguage(r.Header.Get("Accept-Language"), supported)
			w.Header().Set("Content-Language", tag.String())
			next.ServeHTTP(w, r.WithContext(intl.WithLocale(r.Context(), tag)))
		})
	}
}
