package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey stores the resolved UI locale on the request context.
var LocaleKey = localeContextKey{}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

var supportedLocales = []language.Tag{
	language.English, // first entry is the fallback
	language.Spanish,
	language.Japanese,
	language.SimplifiedChinese,
	language.Indonesian,
}

var localeMatcher = language.NewMatcher(supportedLocales)

var countryLocales = map[string]string{
	"JP": "ja",
	"CN": "zh",
	"ES": "es",
	"MX": "es",
	"AR": "es",
	"ID": "id",
}

// I18N resolves the request locale from X-Locale, Accept-Language, then a
// best-effort GeoIP country lookup. The locale is echoed into generation
// metadata and forwarded to providers as an opaque option.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale, lookup)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string, lookup CountryLookup) string {
	if v := matchLocale(r.Header.Get("X-Locale")); v != "" {
		return v
	}
	if v := matchLocale(r.Header.Get("Accept-Language")); v != "" {
		return v
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil {
				if locale, ok := countryLocales[strings.ToUpper(country)]; ok {
					return locale
				}
			}
		}
	}
	return fallback
}

// matchLocale narrows an Accept-Language style value onto a supported locale,
// returning "" when nothing usable was sent.
func matchLocale(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, index, confidence := localeMatcher.Match(tags...)
	if confidence == language.No {
		return ""
	}
	base, _ := supportedLocales[index].Base()
	return base.String()
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return "en"
}
