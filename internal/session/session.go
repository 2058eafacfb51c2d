// Package session completes the host session after a successful flow. Hosts
// plug their own Manager in; Cookie is the standalone default.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNoSession = errors.New("no session")

// Session is the signed-in account, as far as this service is concerned.
type Session struct {
	ID        string
	AccountID string
	Provider  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager reads and writes the host session.
type Manager interface {
	// Current returns ErrNoSession when the request is anonymous or the
	// session is invalid.
	Current(r *http.Request) (*Session, error)
	Establish(w http.ResponseWriter, r *http.Request, accountID, provider string) (*Session, error)
	Clear(w http.ResponseWriter, r *http.Request)
}

type CookieConfig struct {
	Name     string
	Secret   []byte
	TTL      time.Duration
	Secure   bool
	Domain   string
	SameSite string // Lax (default), Strict, None
}

// Cookie keeps the session in an HS256-signed JWT cookie.
type Cookie struct {
	cfg    CookieConfig
	parser *jwtv5.Parser
	now    func() time.Time
}

const issuer = "openidconnect"

func NewCookie(cfg CookieConfig) (*Cookie, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("session: secret must be at least 32 bytes, got %d", len(cfg.Secret))
	}
	if cfg.Name == "" {
		cfg.Name = "oidc_session"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	c := &Cookie{cfg: cfg, now: time.Now}
	c.parser = jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithIssuer(issuer),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

type cookieClaims struct {
	Provider string `json:"prv,omitempty"`
	jwtv5.RegisteredClaims
}

func (c *Cookie) Current(r *http.Request) (*Session, error) {
	ck, err := r.Cookie(c.cfg.Name)
	if err != nil || ck.Value == "" {
		return nil, ErrNoSession
	}
	var cl cookieClaims
	_, err = c.parser.ParseWithClaims(ck.Value, &cl, func(*jwtv5.Token) (any, error) { return c.cfg.Secret, nil })
	if err != nil || cl.Subject == "" {
		return nil, ErrNoSession
	}
	return &Session{
		ID:        cl.ID,
		AccountID: cl.Subject,
		Provider:  cl.Provider,
		IssuedAt:  cl.IssuedAt.Time,
		ExpiresAt: cl.ExpiresAt.Time,
	}, nil
}

func (c *Cookie) Establish(w http.ResponseWriter, _ *http.Request, accountID, provider string) (*Session, error) {
	now := c.now()
	s := &Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Provider:  provider,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.cfg.TTL),
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, cookieClaims{
		Provider: provider,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    issuer,
			Subject:   accountID,
			ID:        s.ID,
			IssuedAt:  jwtv5.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwtv5.NewNumericDate(s.ExpiresAt),
		},
	})
	signed, err := tok.SignedString(c.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("session: sign: %w", err)
	}
	http.SetCookie(w, c.cookie(signed, int(c.cfg.TTL.Seconds()), s.ExpiresAt))
	return s, nil
}

func (c *Cookie) Clear(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, c.cookie("", -1, time.Unix(0, 0)))
}

func (c *Cookie) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	switch c.cfg.SameSite {
	case "Strict":
		sameSite = http.SameSiteStrictMode
	case "None":
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     c.cfg.Name,
		Value:    value,
		Path:     "/",
		Domain:   c.cfg.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: sameSite,
	}
}
