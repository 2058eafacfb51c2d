package flow_test

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/openidconnect/internal/cache"
	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/flow"
	"github.com/dropDatabas3/openidconnect/internal/flowstate"
	"github.com/dropDatabas3/openidconnect/internal/hooks"
	"github.com/dropDatabas3/openidconnect/internal/identity"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
	"github.com/dropDatabas3/openidconnect/internal/oidc/oidctest"
	"github.com/dropDatabas3/openidconnect/internal/provider"
	"github.com/dropDatabas3/openidconnect/internal/store/adapters/memory"
)

type harness struct {
	op       *oidctest.Provider
	ctl      *flow.Controller
	store    *memory.Store
	hooks    *hooks.Hooks
	notified atomic.Int32

	mu  sync.Mutex
	now time.Time
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{op: oidctest.New(t), store: memory.New(), hooks: hooks.New(), now: time.Now()}

	reg := provider.NewRegistry()
	cfg := h.op.Config("google", "https://rp.example.com/auth/google/callback")
	cfg.Title = "Google"
	require.NoError(t, reg.Register(cfg))
	require.NoError(t, reg.Register(h.op.Config("other", "https://rp.example.com/auth/other/callback")))

	h.hooks.AddObserver(hooks.ObserverFunc(func(context.Context, *oidc.TokenSet, *repository.Account, claims.Claims, string) error {
		h.notified.Add(1)
		return nil
	}))

	httpClient := h.op.Server.Client()
	h.ctl = flow.New(flow.Deps{
		Providers: reg,
		States:    flowstate.NewStore(cache.NewMemory("", time.Minute)).WithClock(h.clock),
		Client:    oidc.NewClient(httpClient),
		Validator: oidc.NewValidator(oidc.ValidatorOptions{HTTPClient: httpClient}),
		Linker:    identity.New(h.store, h.hooks, identity.DefaultMapping()),
		Notifier:  h.hooks,
	}, flow.Options{
		AllowedOrigins: []string{"https://app.example.com"},
		WantedClaims:   []string{"email"},
		Now:            h.clock,
	})
	return h
}

func (h *harness) begin(t *testing.T, target string) string {
	t.Helper()
	a, err := h.ctl.Begin(context.Background(), "google", target, "")
	require.NoError(t, err)
	return a.URL
}

// callback answers as the same browser that started the flow.
func (h *harness) callback(providerName string, q url.Values) (*flow.Result, error) {
	return h.ctl.HandleCallback(context.Background(), providerName, q, q.Get("state"))
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t)
	authURL := h.begin(t, "/dashboard")

	q, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "code", q.Query().Get("response_type"))
	require.Len(t, q.Query().Get("state"), 43, "32 random bytes, base64url")
	require.Len(t, q.Query().Get("nonce"), 43)
	require.NotEqual(t, q.Query().Get("state"), q.Query().Get("nonce"))

	c := h.op.Claims("g-123")
	c["email"] = "ada@example.com"
	cb := h.op.Authorize(t, authURL, c)

	res, err := h.callback("google", cb)
	require.NoError(t, err)
	require.Equal(t, flow.StatusCompleted, res.Status)
	require.Equal(t, "/dashboard", res.RedirectTarget)
	require.Equal(t, identity.ModeCreated, res.Mode)
	require.Equal(t, "g-123", res.Claims.Subject())
	require.Equal(t, "ada", res.Account.Username)
	require.NotEmpty(t, res.Tokens.AccessToken)
	require.EqualValues(t, 1, h.notified.Load())

	accounts, links := h.store.Counts()
	require.Equal(t, 1, accounts)
	require.Equal(t, 1, links)
}

func TestStateIsSingleUse(t *testing.T) {
	h := newHarness(t)
	cb := h.op.Authorize(t, h.begin(t, "/"), h.op.Claims("g-1"))

	_, err := h.callback("google", cb)
	require.NoError(t, err)

	_, err = h.callback("google", cb)
	require.ErrorIs(t, err, flow.ErrInvalidState)
	require.EqualValues(t, 1, h.op.TokenHits.Load())
}

func TestStateConsumedEvenWhenValidationFails(t *testing.T) {
	h := newHarness(t)
	authURL := h.begin(t, "/")
	c := h.op.Claims("g-1")
	c["nonce"] = "not-the-nonce-we-sent"
	cb := h.op.Authorize(t, authURL, c)

	_, err := h.callback("google", cb)
	require.ErrorIs(t, err, oidc.ErrNonceMismatch)

	_, err = h.callback("google", cb)
	require.ErrorIs(t, err, flow.ErrInvalidState)

	accounts, _ := h.store.Counts()
	require.Zero(t, accounts)
	require.Zero(t, h.notified.Load())
}

func TestExpiredState(t *testing.T) {
	h := newHarness(t)
	cb := h.op.Authorize(t, h.begin(t, "/"), h.op.Claims("g-1"))

	h.advance(flow.DefaultStateTTL + time.Second)
	_, err := h.callback("google", cb)
	require.ErrorIs(t, err, flow.ErrInvalidState)
	require.Zero(t, h.op.TokenHits.Load())
}

func TestUnknownState(t *testing.T) {
	h := newHarness(t)
	for _, q := range []url.Values{
		{"code": {"c"}},
		{"code": {"c"}, "state": {"forged"}},
	} {
		_, err := h.callback("google", q)
		require.ErrorIs(t, err, flow.ErrInvalidState)
	}
	require.Zero(t, h.op.TokenHits.Load())
}

func TestStateBoundToBrowser(t *testing.T) {
	tests := []struct {
		name  string
		bound func(victim *flow.Authorization) string
	}{
		{"no cookie", func(*flow.Authorization) string { return "" }},
		{"cookie of another flow", func(v *flow.Authorization) string { return v.State }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			// el atacante arranca el flujo y le pasa el callback a la víctima
			attacker, err := h.ctl.Begin(ctx, "google", "/", "")
			require.NoError(t, err)
			cb := h.op.Authorize(t, attacker.URL, h.op.Claims("attacker"))
			victim, err := h.ctl.Begin(ctx, "google", "/", "")
			require.NoError(t, err)

			res, err := h.ctl.HandleCallback(ctx, "google", cb, tt.bound(victim))
			require.ErrorIs(t, err, flow.ErrInvalidState)
			require.Nil(t, res)

			// burned: not even the browser that started it can finish it now
			_, err = h.ctl.HandleCallback(ctx, "google", cb, attacker.State)
			require.ErrorIs(t, err, flow.ErrInvalidState)

			require.Zero(t, h.op.TokenHits.Load())
			accounts, links := h.store.Counts()
			require.Zero(t, accounts)
			require.Zero(t, links)
		})
	}
}

func TestStateBoundToProvider(t *testing.T) {
	h := newHarness(t)
	cb := h.op.Authorize(t, h.begin(t, "/"), h.op.Claims("g-1"))

	_, err := h.callback("other", cb)
	require.ErrorIs(t, err, flow.ErrInvalidState)
	require.Zero(t, h.op.TokenHits.Load())
}

func TestProviderErrorNeverReachesTokenEndpoint(t *testing.T) {
	h := newHarness(t)
	authURL := h.begin(t, "/")
	state := mustQuery(t, authURL).Get("state")

	_, err := h.callback("google", url.Values{
		"error":             {"access_denied"},
		"error_description": {"user said no"},
		"state":             {state},
	})
	require.ErrorIs(t, err, flow.ErrAuthorizationDenied)
	var pe *flow.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "access_denied", pe.Code)
	require.Zero(t, h.op.TokenHits.Load())
	require.Zero(t, h.op.JWKSHits.Load())

	// the state is gone too
	cb := h.op.Authorize(t, authURL, h.op.Claims("g-1"))
	_, err = h.callback("google", cb)
	require.ErrorIs(t, err, flow.ErrInvalidState)
}

func TestMissingCode(t *testing.T) {
	h := newHarness(t)
	state := mustQuery(t, h.begin(t, "/")).Get("state")
	_, err := h.callback("google", url.Values{"state": {state}})
	require.ErrorIs(t, err, flow.ErrMissingCode)
}

func TestTokenExchangeFailure(t *testing.T) {
	h := newHarness(t)
	cb := h.op.Authorize(t, h.begin(t, "/"), h.op.Claims("g-1"))
	h.op.FailToken(400, "invalid_grant")

	_, err := h.callback("google", cb)
	require.ErrorIs(t, err, oidc.ErrTokenExchange)
}

func TestBeginUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctl.Begin(context.Background(), "nope", "/", "")
	require.ErrorIs(t, err, flow.ErrProviderNotFound)
}

func TestBeginRejectsOpenRedirect(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctl.Begin(context.Background(), "google", "https://evil.example/steal", "")
	require.ErrorIs(t, err, flow.ErrInvalidRedirect)

	a, err := h.ctl.Begin(context.Background(), "google", "https://app.example.com/home", "")
	require.NoError(t, err)
	require.NotEmpty(t, a.URL)
	require.Equal(t, mustQuery(t, a.URL).Get("state"), a.State)
}

func TestCreationDeniedCarriesMessage(t *testing.T) {
	h := newHarness(t)
	h.hooks.AddPolicy(hooks.RequireVerifiedEmail())
	cb := h.op.Authorize(t, h.begin(t, "/welcome"), h.op.Claims("g-1"))

	res, err := h.callback("google", cb)
	require.ErrorIs(t, err, identity.ErrAccountCreationDenied)
	require.NotNil(t, res)
	require.Equal(t, flow.StatusFailed, res.Status)
	require.Equal(t, "/welcome", res.RedirectTarget)
	require.Len(t, res.Messages, 1)
	require.Zero(t, h.notified.Load())
}

func TestLinkingFromSession(t *testing.T) {
	h := newHarness(t)
	first, err := h.callback("google", h.op.Authorize(t, h.begin(t, "/"), h.op.Claims("g-1")))
	require.NoError(t, err)

	a, err := h.ctl.Begin(context.Background(), "other", "/settings", first.Account.ID)
	require.NoError(t, err)
	res, err := h.callback("other", h.op.Authorize(t, a.URL, h.op.Claims("o-1")))
	require.NoError(t, err)
	require.Equal(t, identity.ModeLinked, res.Mode)
	require.Equal(t, first.Account.ID, res.Account.ID)
	require.Len(t, res.Messages, 1)
}

func TestConcurrentCallbacksOneWinner(t *testing.T) {
	h := newHarness(t)
	cb := h.op.Authorize(t, h.begin(t, "/"), h.op.Claims("g-1"))

	const n = 20
	var ok, invalid atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.callback("google", cb)
			switch {
			case err == nil:
				ok.Add(1)
			case flow.IsInvalidState(err):
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, ok.Load())
	require.EqualValues(t, n-1, invalid.Load())
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}
