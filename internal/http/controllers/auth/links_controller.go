package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	dto "github.com/dropDatabas3/openidconnect/internal/http/dto/auth"
	httperrors "github.com/dropDatabas3/openidconnect/internal/http/errors"
	mw "github.com/dropDatabas3/openidconnect/internal/http/middlewares"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/session"
)

// LinksController manages the signed-in account's identities. Every route
// sits behind RequireSession.
type LinksController struct {
	links    LinkService
	sessions session.Manager
}

func NewLinksController(links LinkService, sessions session.Manager) *LinksController {
	return &LinksController{links: links, sessions: sessions}
}

// List handles GET /auth/links
func (c *LinksController) List(w http.ResponseWriter, r *http.Request) {
	accountID := mw.AccountID(r.Context())
	links, err := c.links.Links(r.Context(), accountID)
	if err != nil {
		httperrors.WriteError(w, r, toAppError(err))
		return
	}
	resp := dto.LinksResponse{AccountID: accountID, Links: make([]dto.LinkInfo, 0, len(links))}
	for _, l := range links {
		resp.Links = append(resp.Links, dto.LinkInfo{
			Provider: l.Provider,
			Subject:  l.Subject,
			LinkedAt: l.CreatedAt,
		})
	}
	render.JSON(w, r, resp)
}

// Unlink handles DELETE /auth/links/{provider}
func (c *LinksController) Unlink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := mw.AccountID(ctx)
	providerName := chi.URLParam(r, "provider")

	if err := c.links.Unlink(ctx, accountID, providerName); err != nil {
		logger.From(ctx).Warn("unlink failed",
			logger.AccountID(accountID), logger.Provider(providerName), logger.Err(err))
		httperrors.WriteError(w, r, toAppError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount handles DELETE /auth/account: borra la cuenta, sus links y la sesión.
func (c *LinksController) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := mw.AccountID(ctx)
	if err := c.links.DeleteAccount(ctx, accountID); err != nil {
		httperrors.WriteError(w, r, toAppError(err))
		return
	}
	logger.From(ctx).Info("account deleted", logger.AccountID(accountID))
	c.sessions.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}
