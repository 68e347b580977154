package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// supportedLocales lists the locales the prompt catalog can serve, in
// preference order.
var supportedLocales = []language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// Locale resolves the request locale from the X-Locale header or the
// Accept-Language header and stores the matched BCP 47 tag in the request
// context. Unknown languages fall back to defaultLocale.
func Locale(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		if tag, err := language.Parse(v); err == nil {
			if _, idx, conf := localeMatcher.Match(tag); conf > language.No {
				return supportedLocales[idx].String()
			}
		}
	}
	if header := r.Header.Get("Accept-Language"); header != "" {
		if tags, _, err := language.ParseAcceptLanguage(header); err == nil && len(tags) > 0 {
			if _, idx, conf := localeMatcher.Match(tags...); conf > language.No {
				return supportedLocales[idx].String()
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return language.English.String()
}

// LocaleFromContext returns the locale resolved for the request, or "en"
// when the middleware did not run.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return language.English.String()
}
