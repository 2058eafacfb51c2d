package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/openidconnect/internal/cache"
	"github.com/dropDatabas3/openidconnect/internal/flow"
	"github.com/dropDatabas3/openidconnect/internal/flowstate"
	"github.com/dropDatabas3/openidconnect/internal/hooks"
	authctrl "github.com/dropDatabas3/openidconnect/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/openidconnect/internal/http/controllers/health"
	mw "github.com/dropDatabas3/openidconnect/internal/http/middlewares"
	"github.com/dropDatabas3/openidconnect/internal/http/router"
	"github.com/dropDatabas3/openidconnect/internal/identity"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
	"github.com/dropDatabas3/openidconnect/internal/oidc/oidctest"
	"github.com/dropDatabas3/openidconnect/internal/provider"
	"github.com/dropDatabas3/openidconnect/internal/session"
	"github.com/dropDatabas3/openidconnect/internal/store/adapters/memory"
)

type stack struct {
	op      *oidctest.Provider
	store   *memory.Store
	handler http.Handler
}

type options struct {
	failureRedirect string
	rateLimit       int
	probe           func(context.Context) error
}

func newStack(t *testing.T, opt options) *stack {
	t.Helper()
	s := &stack{op: oidctest.New(t), store: memory.New()}

	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(s.op.Config("google", "https://rp.example.com/auth/google/callback")))
	require.NoError(t, reg.Register(s.op.Config("corp", "https://rp.example.com/auth/corp/callback")))

	kv := cache.NewMemory("", time.Minute)
	httpClient := s.op.Server.Client()
	linker := identity.New(s.store, hooks.New(), identity.DefaultMapping())
	ctl := flow.New(flow.Deps{
		Providers: reg,
		States:    flowstate.NewStore(kv),
		Client:    oidc.NewClient(httpClient),
		Validator: oidc.NewValidator(oidc.ValidatorOptions{HTTPClient: httpClient}),
		Linker:    linker,
	}, flow.Options{})

	sessions, err := session.NewCookie(session.CookieConfig{Secret: []byte(strings.Repeat("s", 32))})
	require.NoError(t, err)

	probe := opt.probe
	if probe == nil {
		probe = s.store.Ping
	}
	s.handler = router.New(router.Deps{
		Auth: authctrl.NewControllers(authctrl.Deps{
			Flow:      ctl,
			Providers: reg,
			Sessions:  sessions,
			Links:     linker,
		}, authctrl.Config{FailureRedirect: opt.failureRedirect}),
		Health: healthctrl.NewHealthController("test",
			healthctrl.Check{Name: "store", Critical: true, Probe: probe},
			healthctrl.Check{Name: "cache", Critical: true, Probe: kv.Ping},
			healthctrl.Check{Name: "events"},
		),
		Sessions: sessions,
		Metrics:  http.NotFoundHandler(),
		Rate:     router.RateLimit{Enabled: opt.rateLimit > 0, Limit: opt.rateLimit, Window: time.Minute},
	})
	return s
}

func (s *stack) do(t *testing.T, method, target string, cookies []*http.Cookie, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// login runs the whole browser round trip and returns the session cookies.
func (s *stack) login(t *testing.T, providerName, sub string) []*http.Cookie {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/auth/"+providerName+"?redirect=/dashboard", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	cb := s.op.Authorize(t, rec.Header().Get("Location"), s.op.Claims(sub))
	rec = s.do(t, http.MethodGet, "/auth/"+providerName+"/callback?"+cb.Encode(), rec.Result().Cookies(), nil)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	require.Equal(t, "/dashboard", rec.Header().Get("Location"))
	return live(rec.Result().Cookies())
}

// live drops the cookies a response deleted.
func live(cookies []*http.Cookie) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range cookies {
		if c.MaxAge >= 0 {
			out = append(out, c)
		}
	}
	return out
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func TestLoginRoundTrip(t *testing.T) {
	s := newStack(t, options{})
	cookies := s.login(t, "google", "g-1")

	var sessionCookie *http.Cookie
	for _, c := range cookies {
		if c.Name == "oidc_session" {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie, "callback must establish the session")
	require.True(t, sessionCookie.HttpOnly)

	rec := s.do(t, http.MethodGet, "/auth/links", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var links struct {
		AccountID string `json:"account_id"`
		Links     []struct {
			Provider string `json:"provider"`
			Subject  string `json:"subject"`
		} `json:"links"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &links))
	require.NotEmpty(t, links.AccountID)
	require.Len(t, links.Links, 1)
	require.Equal(t, "google", links.Links[0].Provider)
	require.Equal(t, "g-1", links.Links[0].Subject)
}

func TestBeginResponseHeaders(t *testing.T) {
	s := newStack(t, options{})
	rec := s.do(t, http.MethodGet, "/auth/google", nil, map[string]string{"X-Request-ID": "req-42"})

	require.Equal(t, http.StatusFound, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), s.op.Server.URL+"/authorize?"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestCallbackErrors(t *testing.T) {
	s := newStack(t, options{})

	tests := []struct {
		name   string
		target string
		status int
		code   string
	}{
		{"unknown state", "/auth/google/callback?state=nope&code=x", http.StatusBadRequest, "INVALID_STATE"},
		{"provider denied", "/auth/google/callback?state=nope&error=access_denied", http.StatusForbidden, "AUTHORIZATION_DENIED"},
		{"unknown provider", "/auth/nope", http.StatusNotFound, "PROVIDER_NOT_FOUND"},
		{"open redirect", "/auth/google?redirect=https://evil.example.com/", http.StatusBadRequest, "INVALID_REDIRECT"},
		{"no route", "/nothing-here", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.target, nil, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.Equal(t, tt.code, errorCode(t, rec))
		})
	}
	require.EqualValues(t, 0, s.op.TokenHits.Load())
}

func TestCallbackReplayIsRejected(t *testing.T) {
	s := newStack(t, options{})
	rec := s.do(t, http.MethodGet, "/auth/google", nil, nil)
	browser := rec.Result().Cookies()
	cb := s.op.Authorize(t, rec.Header().Get("Location"), s.op.Claims("g-1"))

	rec = s.do(t, http.MethodGet, "/auth/google/callback?"+cb.Encode(), browser, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/auth/google/callback?"+cb.Encode(), browser, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_STATE", errorCode(t, rec))
}

func TestStateCookie(t *testing.T) {
	s := newStack(t, options{})
	rec := s.do(t, http.MethodGet, "/auth/google", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	ck := findCookie(rec.Result().Cookies(), authctrl.StateCookiePrefix+"google")
	require.NotNil(t, ck)
	require.True(t, ck.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	require.Equal(t, "/auth/", ck.Path)
	require.Positive(t, ck.MaxAge)
	require.Contains(t, rec.Header().Get("Location"), "state="+ck.Value)

	cb := s.op.Authorize(t, rec.Header().Get("Location"), s.op.Claims("g-1"))
	rec = s.do(t, http.MethodGet, "/auth/google/callback?"+cb.Encode(), []*http.Cookie{ck}, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	cleared := findCookie(rec.Result().Cookies(), authctrl.StateCookiePrefix+"google")
	require.NotNil(t, cleared)
	require.Negative(t, cleared.MaxAge)
}

func TestCallbackFromAnotherBrowser(t *testing.T) {
	tests := []struct {
		name    string
		cookies func(victim []*http.Cookie) []*http.Cookie
	}{
		{"no state cookie", func([]*http.Cookie) []*http.Cookie { return nil }},
		{"state cookie of another flow", func(victim []*http.Cookie) []*http.Cookie { return victim }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, options{})

			// el atacante arranca el login, se autentica y le pasa el callback a la víctima
			rec := s.do(t, http.MethodGet, "/auth/google?redirect=/dashboard", nil, nil)
			attacker := rec.Result().Cookies()
			cb := s.op.Authorize(t, rec.Header().Get("Location"), s.op.Claims("attacker"))

			victim := s.do(t, http.MethodGet, "/auth/google", nil, nil).Result().Cookies()

			rec = s.do(t, http.MethodGet, "/auth/google/callback?"+cb.Encode(), tt.cookies(victim), nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.Equal(t, "INVALID_STATE", errorCode(t, rec))
			require.Nil(t, findCookie(rec.Result().Cookies(), "oidc_session"))

			// the state is burned even for the browser that started it
			rec = s.do(t, http.MethodGet, "/auth/google/callback?"+cb.Encode(), attacker, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "INVALID_STATE", errorCode(t, rec))

			require.EqualValues(t, 0, s.op.TokenHits.Load())
			accounts, links := s.store.Counts()
			require.Zero(t, accounts)
			require.Zero(t, links)
		})
	}
}

func TestFailureRedirect(t *testing.T) {
	s := newStack(t, options{failureRedirect: "/login?from=oidc"})
	rec := s.do(t, http.MethodGet, "/auth/google/callback?state=nope&code=x", nil, nil)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login?error=invalid_state&from=oidc&provider=google", rec.Header().Get("Location"))
}

func TestLinkingFromSession(t *testing.T) {
	s := newStack(t, options{})
	cookies := s.login(t, "google", "g-1")

	// second provider, same browser session: the identity joins the account
	rec := s.do(t, http.MethodGet, "/auth/corp?redirect=/dashboard", cookies, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	cb := s.op.Authorize(t, rec.Header().Get("Location"), s.op.Claims("c-9"))
	rec = s.do(t, http.MethodGet, "/auth/corp/callback?"+cb.Encode(), rec.Result().Cookies(), nil)
	require.Equal(t, http.StatusFound, rec.Code)

	flash := findCookie(rec.Result().Cookies(), authctrl.FlashCookie)
	require.NotNil(t, flash, "linking leaves a message for the user")

	accounts, links := s.store.Counts()
	require.Equal(t, 1, accounts)
	require.Equal(t, 2, links)
}

func TestLinksRequireSession(t *testing.T) {
	s := newStack(t, options{})
	rec := s.do(t, http.MethodGet, "/auth/links", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
}

func csrf(t *testing.T, s *stack, cookies []*http.Cookie) ([]*http.Cookie, string) {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/auth/session", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Authenticated bool   `json:"authenticated"`
		CSRFToken     string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.CSRFToken)
	return append(cookies, rec.Result().Cookies()...), body.CSRFToken
}

func TestUnlinkNeedsCSRFAndKeepsLastIdentity(t *testing.T) {
	s := newStack(t, options{})
	cookies := s.login(t, "google", "g-1")

	rec := s.do(t, http.MethodDelete, "/auth/links/google", cookies, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "INVALID_CSRF_TOKEN", errorCode(t, rec))

	cookies, token := csrf(t, s, cookies)
	rec = s.do(t, http.MethodDelete, "/auth/links/google", cookies, map[string]string{mw.DefaultCSRFHeader: token})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "LAST_IDENTITY", errorCode(t, rec))

	rec = s.do(t, http.MethodDelete, "/auth/links/corp", cookies, map[string]string{mw.DefaultCSRFHeader: token})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogout(t *testing.T) {
	s := newStack(t, options{})
	cookies := s.login(t, "google", "g-1")
	cookies, token := csrf(t, s, cookies)

	rec := s.do(t, http.MethodPost, "/auth/logout", cookies, map[string]string{mw.DefaultCSRFHeader: token})
	require.Equal(t, http.StatusNoContent, rec.Code)

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "oidc_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)
}

func TestDeleteAccount(t *testing.T) {
	s := newStack(t, options{})
	cookies := s.login(t, "google", "g-1")
	cookies, token := csrf(t, s, cookies)

	rec := s.do(t, http.MethodDelete, "/auth/account", cookies, map[string]string{mw.DefaultCSRFHeader: token})
	require.Equal(t, http.StatusNoContent, rec.Code)

	accounts, links := s.store.Counts()
	require.Zero(t, accounts)
	require.Zero(t, links)
}

func TestProvidersList(t *testing.T) {
	s := newStack(t, options{})
	rec := s.do(t, http.MethodGet, "/auth/providers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "test-secret")

	var body struct {
		Providers []struct {
			Name     string `json:"name"`
			StartURL string `json:"start_url"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	for _, p := range body.Providers {
		require.Equal(t, "/auth/"+p.Name, p.StartURL)
	}
}

func TestReadyz(t *testing.T) {
	s := newStack(t, options{})
	rec := s.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ready"`)
	require.Contains(t, rec.Body.String(), `"events":{"status":"disabled"}`)

	down := newStack(t, options{probe: func(context.Context) error { return errors.New("connection refused") }})
	rec = down.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"unavailable"`)
}

func TestMemoryRateLimit(t *testing.T) {
	s := newStack(t, options{rateLimit: 2})
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/auth/providers", nil, nil).Code)
	}
	rec := s.do(t, http.MethodGet, "/auth/providers", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rec))

	// health checks are never limited
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", nil, nil).Code)
}
