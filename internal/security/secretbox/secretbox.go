// Package secretbox seals configuration secrets (provider client secrets) with
// NaCl secretbox so they can live in a committed config file.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Prefix marks a sealed value inside a config file.
const Prefix = "sealed:"

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey    = errors.New("secretbox: key must decode to 32 bytes")
	ErrMalformed     = errors.New("secretbox: malformed sealed value")
	ErrDecryptFailed = errors.New("secretbox: decryption failed")
)

// Box seals and opens values under a single key.
type Box struct {
	key [keySize]byte
}

// New parses a key given as base64 (std or raw) or 64 hex chars.
func New(key string) (*Box, error) {
	key = strings.TrimSpace(key)
	var raw []byte
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == keySize {
		raw = b
	} else if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == keySize {
		raw = b
	} else if b, err := hex.DecodeString(key); err == nil && len(b) == keySize {
		raw = b
	}
	if raw == nil {
		return nil, ErrInvalidKey
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal returns "sealed:" + base64url(nonce || box).
func (b *Box) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secretbox nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return Prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged.
func (b *Box) Open(v string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(v, Prefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}

func IsSealed(v string) bool { return strings.HasPrefix(v, Prefix) }

// GenerateKey returns a fresh base64 key, for the seal command.
func GenerateKey() (string, error) {
	k := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}
