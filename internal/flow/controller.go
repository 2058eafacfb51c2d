// Package flow drives the authorization code flow: Begin sends the user to
// the provider, HandleCallback turns the provider's answer into an account.
package flow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/flowstate"
	"github.com/dropDatabas3/openidconnect/internal/hooks"
	"github.com/dropDatabas3/openidconnect/internal/identity"
	"github.com/dropDatabas3/openidconnect/internal/metrics"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
	"github.com/dropDatabas3/openidconnect/internal/provider"
	tokens "github.com/dropDatabas3/openidconnect/internal/security/token"
)

// DefaultStateTTL is how long a user has to come back from the provider.
const DefaultStateTTL = 10 * time.Minute

// entropy of state and nonce, in bytes
const tokenBytes = 32

// Status of a flow. FAILED can follow any other status.
type Status int

const (
	StatusInitiated Status = iota
	StatusCallbackReceived
	StatusTokenExchanged
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "INITIATED"
	case StatusCallbackReceived:
		return "CALLBACK_RECEIVED"
	case StatusTokenExchanged:
		return "TOKEN_EXCHANGED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Collaborators, narrowed to what the controller calls.
type (
	Providers interface {
		Get(name string) (provider.Config, error)
	}
	Client interface {
		AuthCodeURL(p provider.Config, r oidc.AuthRequest) string
		Exchange(ctx context.Context, p provider.Config, code, verifier string) (*oidc.TokenSet, error)
	}
	Validator interface {
		Validate(ctx context.Context, ts *oidc.TokenSet, exp oidc.Expectations) (claims.Claims, error)
	}
	Resolver interface {
		Resolve(ctx context.Context, provider string, c claims.Claims, sessionAccountID string) (*identity.Resolution, error)
	}
	Notifier interface {
		NotifyPostAuthorize(ctx context.Context, ts *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string)
	}
)

// Result is what a finished callback hands to the host: who signed in, the
// claims and tokens, where to send the browser and what to tell the user.
type Result struct {
	Status         Status
	Provider       string
	Account        *repository.Account
	Mode           identity.Mode
	Claims         claims.Claims
	Tokens         *oidc.TokenSet
	RedirectTarget string
	Messages       []hooks.Message
}

// Authorization is what Begin hands back. State must be bound to the browser
// that started the flow (a cookie) and passed back to HandleCallback.
type Authorization struct {
	URL   string
	State string
}

type Deps struct {
	Providers Providers
	States    *flowstate.Store
	Client    Client
	Validator Validator
	Linker    Resolver
	Notifier  Notifier // optional
	Catalog   *claims.Catalog
}

type Options struct {
	StateTTL        time.Duration
	DefaultRedirect string
	AllowedOrigins  []string
	// WantedClaims are turned into extra scopes through the catalog.
	WantedClaims []string
	Now          func() time.Time
}

type Controller struct {
	d   Deps
	opt Options
}

func New(d Deps, opt Options) *Controller {
	if opt.StateTTL <= 0 {
		opt.StateTTL = DefaultStateTTL
	}
	if opt.DefaultRedirect == "" {
		opt.DefaultRedirect = "/"
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if d.Catalog == nil {
		d.Catalog = claims.NewCatalog()
	}
	return &Controller{d: d, opt: opt}
}

// Begin starts a flow and returns the provider's authorization URL together
// with the state token. sessionAccountID, when set, links the resulting
// identity to that account.
func (c *Controller) Begin(ctx context.Context, providerName, redirectTarget, sessionAccountID string) (*Authorization, error) {
	log := logger.From(ctx).With(logger.Component("flow"), logger.Provider(providerName))

	p, err := c.d.Providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	target, err := SanitizeRedirect(redirectTarget, c.opt.DefaultRedirect, c.opt.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	state, err := tokens.GenerateOpaqueToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("flow: state: %w", err)
	}
	nonce, err := tokens.GenerateOpaqueToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("flow: nonce: %w", err)
	}
	var verifier string
	if p.UsePKCE {
		verifier = oauth2.GenerateVerifier()
	}

	now := c.opt.Now()
	st := flowstate.State{
		Token:            state,
		Nonce:            nonce,
		Provider:         p.Name,
		CreatedAt:        now,
		ExpiresAt:        now.Add(c.opt.StateTTL),
		RedirectTarget:   target,
		SessionAccountID: sessionAccountID,
		CodeVerifier:     verifier,
	}
	if err := c.d.States.Save(ctx, st); err != nil {
		log.Error("could not persist flow state", logger.Err(err))
		return nil, fmt.Errorf("flow: save state: %w", err)
	}

	authURL := c.d.Client.AuthCodeURL(p, oidc.AuthRequest{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		Scopes:       c.d.Catalog.Scopes(p.Scopes, c.opt.WantedClaims...),
	})
	metrics.FlowsTotal.WithLabelValues(p.Name, "started").Inc()
	log.Info("flow started", logger.State(state), logger.Bool("pkce", verifier != ""))
	return &Authorization{URL: authURL, State: state}, nil
}

// HandleCallback finishes the flow for the callback query. boundState is the
// state the caller kept for this browser at Begin; a callback whose state does
// not match it fails with ErrInvalidState. The pending state is consumed on
// every path, so a callback can never be replayed.
//
// On a creation denial the Result still carries the redirect target and the
// policy's message alongside the error.
func (c *Controller) HandleCallback(ctx context.Context, providerName string, query url.Values, boundState string) (res *Result, err error) {
	log := logger.From(ctx).With(logger.Component("flow"), logger.Provider(providerName))
	status := StatusCallbackReceived
	defer func() {
		if err != nil {
			metrics.FlowsTotal.WithLabelValues(providerName, failureReason(err)).Inc()
			log.Warn("flow failed", logger.String("at", status.String()), logger.Reason(failureReason(err)), logger.Err(err))
			if res != nil {
				res.Status = StatusFailed
			}
			return
		}
		metrics.FlowsTotal.WithLabelValues(providerName, "completed").Inc()
	}()

	stateToken := query.Get("state")

	if code := query.Get("error"); code != "" {
		// burn the state so the same request cannot be retried with a code
		if stateToken != "" {
			_, _ = c.d.States.Consume(ctx, stateToken)
		}
		return nil, &ProviderError{Provider: providerName, Code: code, Description: query.Get("error_description")}
	}

	st, err := c.d.States.Consume(ctx, stateToken)
	if err != nil {
		if errors.Is(err, flowstate.ErrNotFound) || errors.Is(err, flowstate.ErrExpired) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, err
	}
	if boundState == "" || subtle.ConstantTimeCompare([]byte(boundState), []byte(st.Token)) != 1 {
		return nil, fmt.Errorf("%w: not started by this browser", ErrInvalidState)
	}
	if st.Provider != providerName {
		return nil, fmt.Errorf("%w: issued for provider %q", ErrInvalidState, st.Provider)
	}
	code := query.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}
	p, err := c.d.Providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	ts, err := c.d.Client.Exchange(ctx, p, code, st.CodeVerifier)
	if err != nil {
		return nil, err
	}
	status = StatusTokenExchanged

	merged, err := c.d.Validator.Validate(ctx, ts, oidc.ExpectationsFor(p, st.Nonce))
	if err != nil {
		return nil, err
	}

	res = &Result{
		Status:         status,
		Provider:       p.Name,
		Claims:         merged,
		Tokens:         ts,
		RedirectTarget: st.RedirectTarget,
	}
	resolved, err := c.d.Linker.Resolve(ctx, p.Name, merged, st.SessionAccountID)
	if err != nil {
		var denied *identity.DeniedError
		if errors.As(err, &denied) && denied.Message != nil {
			res.Messages = append(res.Messages, *denied.Message)
		}
		return res, err
	}
	res.Account = resolved.Account
	res.Mode = resolved.Mode
	if resolved.Mode == identity.ModeLinked {
		title := p.Title
		if title == "" {
			title = p.Name
		}
		res.Messages = append(res.Messages, *hooks.Info(fmt.Sprintf("Your %s account is now linked.", title)))
	}

	if c.d.Notifier != nil {
		c.d.Notifier.NotifyPostAuthorize(ctx, ts, resolved.Account, merged, p.Name)
	}
	res.Status = StatusCompleted
	status = StatusCompleted
	log.Info("flow completed", logger.AccountID(resolved.Account.ID), logger.String("mode", string(resolved.Mode)))
	return res, nil
}
