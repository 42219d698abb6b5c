package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

//go:embed messages/*.json
var messagesFS embed.FS

// Supported locales
const (
	LocaleEnglish = "en"
	LocaleTurkish = "tr"
	DefaultLocale = LocaleEnglish
)

// supported is ordered like the matcher tags; index 0 is the fallback
var supported = []string{LocaleEnglish, LocaleTurkish}

type localeKey struct{}

var (
	catalog     map[string]map[string]string
	catalogErr  error
	catalogOnce sync.Once

	matcher = language.NewMatcher([]language.Tag{language.English, language.Turkish})
)

// load reads every embedded locale file into a flat key -> message map.
// Nested JSON objects become dot-separated keys ("scan.duplicate_identity").
func load() {
	catalogOnce.Do(func() {
		catalog = make(map[string]map[string]string, len(supported))
		for _, locale := range supported {
			data, err := messagesFS.ReadFile("messages/" + locale + ".json")
			if err != nil {
				catalogErr = fmt.Errorf("read %s messages: %w", locale, err)
				return
			}
			var tree map[string]any
			if err := json.Unmarshal(data, &tree); err != nil {
				catalogErr = fmt.Errorf("parse %s messages: %w", locale, err)
				return
			}
			flat := make(map[string]string)
			flatten("", tree, flat)
			catalog[locale] = flat
		}
	})
}

func flatten(prefix string, tree map[string]any, into map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			into[key] = val
		case map[string]any:
			flatten(key, val, into)
		}
	}
}

// Check reports a broken embedded catalog. Services call it at startup.
func Check() error {
	load()
	return catalogErr
}

// Supported returns the locales with a message catalog
func Supported() []string {
	return append([]string(nil), supported...)
}

// Normalize maps a locale string such as "tr-TR" onto a supported locale
func Normalize(locale string) string {
	base := strings.ToLower(strings.SplitN(strings.ReplaceAll(locale, "_", "-"), "-", 2)[0])
	for _, l := range supported {
		if l == base {
			return l
		}
	}
	return DefaultLocale
}

// Has reports whether key has a message in locale, without fallback
func Has(locale, key string) bool {
	load()
	_, ok := catalog[locale][key]
	return ok
}

// Keys lists every message key of a locale
func Keys(locale string) []string {
	load()
	keys := make([]string, 0, len(catalog[locale]))
	for k := range catalog[locale] {
		keys = append(keys, k)
	}
	return keys
}

// Localizer handles message localization
type Localizer struct {
	locale string
}

// NewLocalizer creates a localizer; unknown locales fall back to English
func NewLocalizer(locale string) *Localizer {
	load()
	return &Localizer{locale: Normalize(locale)}
}

// LocalizerFromContext creates a localizer from context
func LocalizerFromContext(ctx context.Context) *Localizer {
	return NewLocalizer(GetLocaleFromContext(ctx))
}

// T translates key, substituting {name} placeholders from params.
// Missing keys fall back to English, then to the key itself.
func (l *Localizer) T(key string, params ...map[string]string) string {
	msg, ok := catalog[l.locale][key]
	if !ok {
		msg, ok = catalog[DefaultLocale][key]
	}
	if !ok {
		return key
	}
	if len(params) == 0 || len(params[0]) == 0 {
		return msg
	}

	pairs := make([]string, 0, len(params[0])*2)
	for k, v := range params[0] {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// Locale returns the locale the localizer translates into
func (l *Localizer) Locale() string {
	return l.locale
}

// WithLocale adds locale to context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// GetLocaleFromContext retrieves locale from context
func GetLocaleFromContext(ctx context.Context) string {
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// ParseAcceptLanguage returns the supported locale that best matches an
// Accept-Language header, honouring q-values.
func ParseAcceptLanguage(header string) string {
	if header == "" {
		return DefaultLocale
	}

	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}

	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return DefaultLocale
	}
	return supported[index]
}

// T translates using the default locale
func T(key string, params ...map[string]string) string {
	return NewLocalizer(DefaultLocale).T(key, params...)
}

// TFromContext translates using locale from context
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return LocalizerFromContext(ctx).T(key, params...)
}
