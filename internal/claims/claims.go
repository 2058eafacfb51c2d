// Package claims models the name/value assertions returned by a provider and
// the catalog that maps each claim to the scope that requests it.
package claims

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Claims is a decoded set of claims, from an ID token or the userinfo endpoint.
type Claims map[string]any

// Subject returns the "sub" claim.
func (c Claims) Subject() string { return c.String("sub") }

// String returns a string claim, or "" when absent or not a string.
func (c Claims) String(name string) string {
	switch v := c[name].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Bool accepts JSON booleans and the "true"/"false" strings some providers emit.
func (c Claims) Bool(name string) bool {
	switch v := c[name].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// Strings returns a claim that may be a single string or an array of strings.
func (c Claims) Strings(name string) []string {
	switch v := c[name].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Has reports a present, non-empty claim.
func (c Claims) Has(name string) bool {
	v, ok := c[name]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// Missing lists the names in required that c lacks.
func (c Claims) Missing(required ...string) []string {
	var out []string
	for _, n := range required {
		if !c.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Clone returns a shallow copy.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge combines ID token and userinfo claims. The ID token wins on
// conflict. The userinfo "sub" must be present and equal to the ID token's.
func Merge(idToken, userinfo Claims) (Claims, error) {
	us := userinfo.Subject()
	if us == "" {
		return nil, errors.New("userinfo response has no sub")
	}
	if us != idToken.Subject() {
		return nil, fmt.Errorf("userinfo sub %q does not match id token", us)
	}
	out := make(Claims, len(idToken)+len(userinfo))
	for k, v := range userinfo {
		out[k] = v
	}
	for k, v := range idToken {
		out[k] = v
	}
	return out, nil
}
