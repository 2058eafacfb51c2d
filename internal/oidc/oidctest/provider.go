// Package oidctest runs an in-process OpenID provider for tests: discovery,
// JWKS, token and userinfo endpoints backed by an RSA key it controls.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/dropDatabas3/openidconnect/internal/provider"
)

type signingKey struct {
	kid  string
	priv *rsa.PrivateKey
}

type grant struct {
	claims    map[string]any
	challenge string
}

// Provider is a fake OP. Fields may be tweaked between requests under the
// test's own synchronisation.
type Provider struct {
	Server       *httptest.Server
	Issuer       string
	ClientID     string
	ClientSecret string

	mu        sync.Mutex
	keys      []signingKey // keys[0] signs
	published []signingKey // served on /jwks
	codes     map[string]grant
	access    map[string]string // access token -> sub
	userinfo  map[string]any
	uiStatus  int
	tokStatus int
	tokError  string

	JWKSHits     atomic.Int32
	TokenHits    atomic.Int32
	UserinfoHits atomic.Int32
}

func New(t testing.TB) *Provider {
	t.Helper()
	p := &Provider{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		codes:        map[string]grant{},
		access:       map[string]string{},
		uiStatus:     http.StatusOK,
		tokStatus:    http.StatusOK,
	}
	k := newKey(t)
	p.keys = []signingKey{k}
	p.published = []signingKey{k}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/jwks", p.handleJWKS)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/userinfo", p.handleUserinfo)
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	p.Server = httptest.NewServer(mux)
	p.Issuer = p.Server.URL
	t.Cleanup(p.Server.Close)
	return p
}

func newKey(t testing.TB) signingKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key: %v", err)
	}
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return signingKey{kid: hex.EncodeToString(b), priv: priv}
}

// Config returns a provider entry pointing at this server.
func (p *Provider) Config(name, redirectURL string) provider.Config {
	return provider.Config{
		Name:         name,
		Title:        name,
		Plugin:       "generic",
		Issuer:       p.Issuer,
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		AuthURL:      p.Issuer + "/authorize",
		TokenURL:     p.Issuer + "/token",
		UserinfoURL:  p.Issuer + "/userinfo",
		JWKSURL:      p.Issuer + "/jwks",
		Scopes:       []string{"openid", "profile", "email"},
		RedirectURL:  redirectURL,
		UsePKCE:      true,
	}
}

// Claims returns a valid claim set for sub; callers override as needed.
func (p *Provider) Claims(sub string) map[string]any {
	now := time.Now()
	return map[string]any{
		"iss": p.Issuer,
		"aud": p.ClientID,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// Sign returns a compact RS256 JWT over c with the current key.
func (p *Provider) Sign(t testing.TB, c map[string]any) string {
	t.Helper()
	p.mu.Lock()
	k := p.keys[0]
	p.mu.Unlock()
	return signWith(t, k, c)
}

// SignUnknown signs with a key that is never published.
func (p *Provider) SignUnknown(t testing.TB, c map[string]any) string {
	t.Helper()
	return signWith(t, newKey(t), c)
}

func signWith(t testing.TB, k signingKey, c map[string]any) string {
	t.Helper()
	s, err := signToken(k, c)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// Rotate makes a new key the signing key and publishes only it.
func (p *Provider) Rotate(t testing.TB) {
	t.Helper()
	k := newKey(t)
	p.mu.Lock()
	p.keys = []signingKey{k}
	p.published = []signingKey{k}
	p.mu.Unlock()
}

// SetUserinfo sets the claims served on /userinfo. sub defaults to the
// token's subject unless c overrides it.
func (p *Provider) SetUserinfo(c map[string]any) {
	p.mu.Lock()
	p.userinfo = c
	p.mu.Unlock()
}

// FailUserinfo makes /userinfo answer with status.
func (p *Provider) FailUserinfo(status int) {
	p.mu.Lock()
	p.uiStatus = status
	p.mu.Unlock()
}

// FailToken makes /token answer with status and an OAuth error code.
func (p *Provider) FailToken(status int, code string) {
	p.mu.Lock()
	p.tokStatus, p.tokError = status, code
	p.mu.Unlock()
}

// Authorize plays the user's side of the authorization endpoint: it reads
// the state, nonce and PKCE challenge from authURL, issues a code whose ID
// token carries c plus the nonce, and returns the callback query.
func (p *Provider) Authorize(t testing.TB, authURL string, c map[string]any) url.Values {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	q := u.Query()
	claims := make(map[string]any, len(c)+1)
	for k, v := range c {
		claims[k] = v
	}
	if _, ok := claims["nonce"]; !ok {
		claims["nonce"] = q.Get("nonce")
	}
	code := p.IssueCode(claims, q.Get("code_challenge"))
	return url.Values{"code": {code}, "state": {q.Get("state")}}
}

// IssueCode registers an authorization code redeemable for an ID token with c.
func (p *Provider) IssueCode(c map[string]any, challenge string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	code := hex.EncodeToString(b)
	p.mu.Lock()
	p.codes[code] = grant{claims: c, challenge: challenge}
	p.mu.Unlock()
	return code
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer,
		"authorization_endpoint":                p.Issuer + "/authorize",
		"token_endpoint":                        p.Issuer + "/token",
		"userinfo_endpoint":                     p.Issuer + "/userinfo",
		"jwks_uri":                              p.Issuer + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	p.JWKSHits.Add(1)
	p.mu.Lock()
	keys := append([]signingKey(nil), p.published...)
	p.mu.Unlock()

	set := jwk.NewSet()
	for _, k := range keys {
		pub, err := jwk.FromRaw(&k.priv.PublicKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = pub.Set(jwk.KeyIDKey, k.kid)
		_ = pub.Set(jwk.AlgorithmKey, jwa.RS256)
		_ = pub.Set(jwk.KeyUsageKey, "sig")
		_ = set.AddKey(pub)
	}
	w.Header().Set("Cache-Control", "max-age=3600")
	writeJSON(w, http.StatusOK, set)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.TokenHits.Add(1)
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	id, secret, ok := r.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	}
	if !ok || id != p.ClientID || secret != p.ClientSecret {
		oauthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	p.mu.Lock()
	status, code := p.tokStatus, p.tokError
	g, found := p.codes[r.PostForm.Get("code")]
	delete(p.codes, r.PostForm.Get("code"))
	signer := p.keys[0]
	p.mu.Unlock()

	if status != http.StatusOK {
		oauthError(w, status, code)
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" || !found {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if g.challenge != "" {
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
	}

	b := make([]byte, 16)
	_, _ = rand.Read(b)
	access := hex.EncodeToString(b)
	sub, _ := g.claims["sub"].(string)
	p.mu.Lock()
	p.access[access] = sub
	p.mu.Unlock()

	idToken, err := signToken(signer, g.claims)
	if err != nil {
		oauthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "rt-" + access,
		"id_token":      idToken,
	})
}

func signToken(k signingKey, c map[string]any) (string, error) {
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, jwtv5.MapClaims(c))
	tok.Header["kid"] = k.kid
	return tok.SignedString(k.priv)
}

func (p *Provider) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	p.UserinfoHits.Add(1)
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	p.mu.Lock()
	status := p.uiStatus
	extra := p.userinfo
	sub, ok := "", false
	if len(auth) > len(prefix) {
		sub, ok = p.access[auth[len(prefix):]]
	}
	p.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	out := map[string]any{"sub": sub}
	for k, v := range extra {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func oauthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": fmt.Sprintf("fake provider: %s", code)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
