package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/validation"
)

// Mapping derives the local username and e-mail from claims. The same claims
// always give the same result.
type Mapping struct {
	// UsernameClaims are tried in order; the first usable one wins. An e-mail
	// address contributes its local part.
	UsernameClaims []string
	EmailClaim     string
}

// DefaultMapping is preferred_username, then email, then sub.
func DefaultMapping() Mapping {
	return Mapping{
		UsernameClaims: []string{"preferred_username", "email", "sub"},
		EmailClaim:     "email",
	}
}

func (m Mapping) Username(provider string, c claims.Claims) string {
	for _, name := range m.UsernameClaims {
		v := c.String(name)
		if at := strings.LastIndexByte(v, '@'); at > 0 && strings.Contains(v[at:], ".") {
			v = v[:at]
		}
		if u := validation.NormalizeUsername(v); u != "" {
			return u
		}
	}
	return "user_" + fingerprint(provider, c.Subject())
}

func (m Mapping) Email(c claims.Claims) string {
	name := m.EmailClaim
	if name == "" {
		name = "email"
	}
	return strings.TrimSpace(c.String(name))
}

// suffixed makes a username unique per (provider, sub) when the plain form is
// taken by someone else.
func suffixed(username, provider, subject string) string {
	fp := fingerprint(provider, subject)
	if keep := validation.MaxUsernameLen - len(fp) - 1; len(username) > keep {
		username = strings.TrimRight(username[:keep], "._-")
	}
	return username + "_" + fp
}

func fingerprint(provider, subject string) string {
	sum := sha256.Sum256([]byte(provider + "|" + subject))
	return hex.EncodeToString(sum[:4])
}
