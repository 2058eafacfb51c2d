package validation

import (
	"regexp"
	"strings"
)

// MaxUsernameLen bounds generated usernames.
const MaxUsernameLen = 64

var usernameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9_\.-]{0,62}[a-z0-9])?$`)

// ValidUsername uses the scope rules minus ':'.
func ValidUsername(s string) bool {
	return usernameRe.MatchString(s)
}

// NormalizeUsername lowercases s and maps anything outside [a-z0-9._-] to
// '_'. Separators are trimmed from both ends. Returns "" if nothing is left.
func NormalizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= MaxUsernameLen {
			break
		}
	}
	out := b.String()
	if len(out) > MaxUsernameLen {
		out = out[:MaxUsernameLen]
	}
	return strings.Trim(out, "._-")
}
