package storage

import (
	"fmt"
	"strings"
	"unicode"
)

// Slugify turns an event title into a URL-safe slug.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "event"
	}
	return slug
}

// UniqueSlug returns base, or base-N for the first N such that taken reports
// false.
func UniqueSlug(base string, taken func(string) (bool, error)) (string, error) {
	slug := base
	for counter := 1; ; counter++ {
		exists, err := taken(slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
	}
}
