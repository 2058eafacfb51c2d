package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaskToken returns a short stable fingerprint of a secret value so two log
// lines about the same token can be correlated without leaking it.
func MaskToken(v string) string {
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return "fp:" + hex.EncodeToString(sum[:4])
}

// MaskEmail keeps the first rune of the local part and the domain: j***@example.com.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	local, domain := email[:at], email[at+1:]
	r := []rune(local)
	return string(r[0]) + "***@" + domain
}
