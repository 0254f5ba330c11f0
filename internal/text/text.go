// Package text provides small string helpers shared across Helmsman.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxBranchSlugLen caps the task-title portion of generated branch names.
const maxBranchSlugLen = 40

// ShortUUID returns the first 8 hex characters of the UUID, used for
// compact display and branch names.
func ShortUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// GitBranchSlug converts an arbitrary title into a git-branch-safe slug:
// lowercase, only [a-z0-9-], dashes collapsed, trimmed, length-capped.
func GitBranchSlug(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r) && r < 128:
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxBranchSlugLen {
		slug = strings.Trim(slug[:maxBranchSlugLen], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}

// TruncateToCharBoundary truncates s to at most max bytes without
// splitting a UTF-8 sequence.
func TruncateToCharBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
