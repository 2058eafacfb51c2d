// Package auth holds the /auth HTTP controllers: login start, callback,
// provider list, session and linked identities.
package auth

import (
	"context"
	"net/url"
	"time"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/flow"
	"github.com/dropDatabas3/openidconnect/internal/provider"
	"github.com/dropDatabas3/openidconnect/internal/session"
)

// FlowService is what the login controllers need from flow.Controller.
type FlowService interface {
	Begin(ctx context.Context, providerName, redirectTarget, sessionAccountID string) (*flow.Authorization, error)
	HandleCallback(ctx context.Context, providerName string, query url.Values, boundState string) (*flow.Result, error)
}

type ProviderLister interface {
	List() []provider.Config
}

// LinkService is what the links controller needs from identity.Linker.
type LinkService interface {
	Links(ctx context.Context, accountID string) ([]repository.IdentityLink, error)
	Unlink(ctx context.Context, accountID, provider string) error
	DeleteAccount(ctx context.Context, accountID string) error
}

type Config struct {
	// FailureRedirect recibe ?error=<code>&provider=<name> cuando el callback
	// falla; vacío = respuesta JSON.
	FailureRedirect string
	// CookieSecure marca las cookies auxiliares (state, csrf, flash) como Secure.
	CookieSecure bool
	// StateTTL es la vida de la cookie que ata el state al navegador.
	// 0 = flow.DefaultStateTTL.
	StateTTL time.Duration
}

// Controllers agrupa todos los controllers de /auth.
type Controllers struct {
	Login     *LoginController
	Providers *ProvidersController
	Session   *SessionController
	Links     *LinksController
}

type Deps struct {
	Flow      FlowService
	Providers ProviderLister
	Sessions  session.Manager
	Links     LinkService
}

func NewControllers(d Deps, cfg Config) *Controllers {
	return &Controllers{
		Login:     NewLoginController(d.Flow, d.Sessions, cfg),
		Providers: NewProvidersController(d.Providers),
		Session:   NewSessionController(d.Sessions, cfg),
		Links:     NewLinksController(d.Links, d.Sessions),
	}
}
