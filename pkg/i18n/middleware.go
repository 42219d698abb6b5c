package i18n

import (
	"net/http"
)

// LangParam overrides Accept-Language for clients that cannot set headers,
// such as handheld scanner browsers.
const LangParam = "lang"

// Middleware resolves the request locale and echoes it as Content-Language
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var locale string
		if q := r.URL.Query().Get(LangParam); q != "" {
			locale = Normalize(q)
		} else {
			locale = ParseAcceptLanguage(r.Header.Get("Accept-Language"))
		}
		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}
