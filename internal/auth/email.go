package auth

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail folds an email address to the form users are keyed by:
// NFKC-normalized, trimmed, lower case.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(email)))
}
