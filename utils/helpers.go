package utils

import (
	"regexp"
	"strings"
)

// Unique returns a copy of slice without duplicates, keeping first occurrences in order.
func Unique[T comparable](slice []T) []T {
	keys := make(map[T]bool, len(slice))
	unique := make([]T, 0, len(slice))
	for _, entry := range slice {
		if !keys[entry] {
			keys[entry] = true
			unique = append(unique, entry)
		}
	}
	return unique
}

// slugRegex matches any character that is NOT a letter, a number, or a hyphen.
var slugRegex = regexp.MustCompile(`[^\p{L}\p{N}-]+`)

// CreateSlug turns a label into a lowercase, file-name-safe slug.
func CreateSlug(title string) string {
	slug := strings.ReplaceAll(strings.TrimSpace(title), " ", "-")
	slug = slugRegex.ReplaceAllString(slug, "")
	return strings.ToLower(slug)
}
