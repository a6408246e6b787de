package utils

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultLocale is used when nothing in the request matches.
const DefaultLocale = "en"

// SupportedLocales are the locales server messages are translated into.
var SupportedLocales = []string{"en", "zh"}

// LanguageRange is one Accept-Language entry with its quality weight.
type LanguageRange struct {
	Tag     string
	Quality float64
}

// ParseAcceptLanguage returns the header's ranges ordered by weight, highest
// first. Entries with q=0 are dropped and a malformed q counts as 1.
func ParseAcceptLanguage(header string) []LanguageRange {
	var ranges []LanguageRange
	for _, part := range strings.Split(header, ",") {
		tag, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		q := 1.0
		if k, v, ok := strings.Cut(params, "="); ok && strings.TrimSpace(k) == "q" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				q = f
			}
		}
		if q <= 0 {
			continue
		}
		ranges = append(ranges, LanguageRange{Tag: tag, Quality: q})
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Quality > ranges[j].Quality })
	return ranges
}

// matchLocale maps a tag onto a supported locale, falling back from a
// region tag (zh-cn) to its base language (zh).
func matchLocale(tag string, supported []string) (string, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return "", false
	}
	base, _, _ := strings.Cut(tag, "-")
	for _, s := range supported {
		s = strings.ToLower(s)
		if s == tag || s == base {
			return s, true
		}
	}
	return "", false
}

// DetermineLocale picks the locale for a request: an explicit query value,
// then the best supported Accept-Language range, then def.
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	if l, ok := matchLocale(queryLang, supported); ok {
		return l
	}
	for _, r := range ParseAcceptLanguage(acceptLang) {
		if l, ok := matchLocale(r.Tag, supported); ok {
			return l
		}
	}
	if l, ok := matchLocale(def, supported); ok {
		return l
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return DefaultLocale
}
