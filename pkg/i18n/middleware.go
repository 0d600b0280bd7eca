package i18n

import "net/http"

// Middleware stores the Accept-Language locale in the request context. An
// explicit ?lang= query parameter takes precedence.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := ParseAcceptLanguage(r.Header.Get("Accept-Language"))
		if lang := r.URL.Query().Get("lang"); lang != "" {
			locale = ParseAcceptLanguage(lang)
		}
		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}
