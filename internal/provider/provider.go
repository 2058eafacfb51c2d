// Package provider holds the configured OpenID providers the relying party
// can start a login against.
package provider

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrNotFound          = errors.New("provider not found")
	ErrInvalidConfig     = errors.New("invalid provider configuration")
	ErrUnknownPlugin     = errors.New("unknown provider plugin")
	ErrDiscovery         = errors.New("provider discovery failed")
)

// Config describes one identity provider. Values are treated as immutable
// once registered; Get hands out copies.
type Config struct {
	Name         string `validate:"required,provider_name"`
	Title        string
	Plugin       string
	Issuer       string   `validate:"required,url"`
	ClientID     string   `validate:"required"`
	ClientSecret string   `validate:"required"`
	AuthURL      string   `validate:"required,url"`
	TokenURL     string   `validate:"required,url"`
	UserinfoURL  string   `validate:"omitempty,url"`
	JWKSURL      string   `validate:"required,url"`
	Scopes       []string `validate:"omitempty,dive,scope_name"`
	RedirectURL  string   `validate:"required,url"`
	UsePKCE      bool
	// ExtraAuthParams are appended to the authorization URL (prompt, hd, ...).
	ExtraAuthParams map[string]string
}

// String never prints the client secret.
func (c Config) String() string {
	return fmt.Sprintf("provider{name=%s issuer=%s client_id=%s}", c.Name, c.Issuer, c.ClientID)
}

// Redacted returns a copy safe to print or serialize.
func (c Config) Redacted() Config {
	out := c.clone()
	if out.ClientSecret != "" {
		out.ClientSecret = "********"
	}
	return out
}

func (c Config) clone() Config {
	out := c
	out.Scopes = slices.Clone(c.Scopes)
	if c.ExtraAuthParams != nil {
		out.ExtraAuthParams = make(map[string]string, len(c.ExtraAuthParams))
		for k, v := range c.ExtraAuthParams {
			out.ExtraAuthParams[k] = v
		}
	}
	return out
}

// merge fills empty fields of c from d.
func (c Config) merge(d Config) Config {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	c.Title = pick(c.Title, d.Title)
	c.Issuer = pick(c.Issuer, d.Issuer)
	c.AuthURL = pick(c.AuthURL, d.AuthURL)
	c.TokenURL = pick(c.TokenURL, d.TokenURL)
	c.UserinfoURL = pick(c.UserinfoURL, d.UserinfoURL)
	c.JWKSURL = pick(c.JWKSURL, d.JWKSURL)
	if len(c.Scopes) == 0 {
		c.Scopes = slices.Clone(d.Scopes)
	}
	if len(d.ExtraAuthParams) > 0 {
		merged := make(map[string]string, len(d.ExtraAuthParams)+len(c.ExtraAuthParams))
		for k, v := range d.ExtraAuthParams {
			merged[k] = v
		}
		for k, v := range c.ExtraAuthParams {
			merged[k] = v
		}
		c.ExtraAuthParams = merged
	}
	return c
}
