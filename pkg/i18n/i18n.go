// Package i18n resolves response message keys ("messages.request_approved",
// "errors.insufficient_stock") to English or Arabic text.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed messages/*.json
var messagesFS embed.FS

const (
	LocaleEnglish = "en"
	LocaleArabic  = "ar"
	DefaultLocale = LocaleEnglish
)

var supported = []string{LocaleEnglish, LocaleArabic}

// catalog maps locale -> dotted key -> text.
type catalog map[string]map[string]string

var (
	loaded   catalog
	loadErr  error
	loadOnce sync.Once
)

func load() catalog {
	loadOnce.Do(func() {
		loaded = make(catalog, len(supported))
		for _, locale := range supported {
			data, err := messagesFS.ReadFile("messages/" + locale + ".json")
			if err != nil {
				loadErr = err
				continue
			}
			var tree map[string]any
			if err := json.Unmarshal(data, &tree); err != nil {
				loadErr = fmt.Errorf("messages/%s.json: %w", locale, err)
				continue
			}
			flat := make(map[string]string)
			flatten("", tree, flat)
			loaded[locale] = flat
		}
	})
	return loaded
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := v.(type) {
		case string:
			out[key] = v
		case map[string]any:
			flatten(key, v, out)
		}
	}
}

// LoadError reports a broken message file. Missing keys fall back to the key
// itself, so a bad file only surfaces here.
func LoadError() error {
	load()
	return loadErr
}

// Translate resolves key in locale, falling back to English and then to the
// key. Placeholders like {drug} are replaced from params.
func Translate(locale, key string, params ...map[string]string) string {
	c := load()
	msg, ok := c[locale][key]
	if !ok {
		if msg, ok = c[DefaultLocale][key]; !ok {
			return key
		}
	}
	for _, p := range params {
		for k, v := range p {
			msg = strings.ReplaceAll(msg, "{"+k+"}", v)
		}
	}
	return msg
}

// Has reports whether key exists in the English catalog.
func Has(key string) bool {
	_, ok := load()[DefaultLocale][key]
	return ok
}

type localeKey struct{}

// WithLocale stores locale in ctx.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFromContext returns the request locale, defaulting to English.
func LocaleFromContext(ctx context.Context) string {
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// TFromContext translates key in the locale of ctx.
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return Translate(LocaleFromContext(ctx), key, params...)
}

// ParseAcceptLanguage picks the first supported tag of an Accept-Language
// header. Quality weights are ignored.
func ParseAcceptLanguage(header string) string {
	for _, part := range strings.Split(strings.ToLower(header), ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		base := strings.SplitN(tag, "-", 2)[0]
		for _, locale := range supported {
			if base == locale {
				return locale
			}
		}
	}
	return DefaultLocale
}
