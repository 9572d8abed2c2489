// Package label splits composite class labels such as "RipeApple" into a
// ripeness category and a fruit name.
package label

import "strings"

// Unknown is reported when a label carries no recognized ripeness prefix.
const Unknown = "Unknown"

// ripenessPrefixes are tried in order; the first match wins.
var ripenessPrefixes = []string{"Ripe", "Rotten", "Unripe"}

// Parse returns the ripeness prefix of full and the remainder after removing
// that prefix once. Without a known prefix it returns (Unknown, full).
func Parse(full string) (ripeness, fruit string) {
	for _, prefix := range ripenessPrefixes {
		if strings.HasPrefix(full, prefix) {
			return prefix, strings.TrimPrefix(full, prefix)
		}
	}
	return Unknown, full
}

// IsRipeness reports whether s is one of the recognized ripeness categories.
func IsRipeness(s string) bool {
	for _, prefix := range ripenessPrefixes {
		if s == prefix {
			return true
		}
	}
	return false
}
