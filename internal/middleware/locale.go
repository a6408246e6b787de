package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/Mindwell/internal/utils"
)

type localeCtxKey struct{}

// LocaleMiddleware resolves the request locale from the lang query parameter
// or Accept-Language, stores it in the context and echoes it back in
// Content-Language.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := utils.DetermineLocale(
			r.URL.Query().Get("lang"),
			r.Header.Get("Accept-Language"),
			utils.SupportedLocales,
			utils.DefaultLocale,
		)
		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}

// WithLocale returns ctx carrying locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeCtxKey{}, locale)
}

// LocaleFromContext returns the stored locale, or the default one.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeCtxKey{}).(string); ok && s != "" {
		return s
	}
	return utils.DefaultLocale
}
