package auth

import (
	"net/http"
	"net/url"

	"github.com/go-chi/render"

	dto "github.com/dropDatabas3/openidconnect/internal/http/dto/auth"
)

// ProvidersController handles GET /auth/providers.
type ProvidersController struct {
	providers ProviderLister
}

func NewProvidersController(p ProviderLister) *ProvidersController {
	return &ProvidersController{providers: p}
}

func (c *ProvidersController) List(w http.ResponseWriter, r *http.Request) {
	list := c.providers.List()
	resp := dto.ProvidersResponse{Providers: make([]dto.ProviderInfo, 0, len(list))}
	for _, p := range list {
		title := p.Title
		if title == "" {
			title = p.Name
		}
		resp.Providers = append(resp.Providers, dto.ProviderInfo{
			Name:     p.Name,
			Title:    title,
			Issuer:   p.Issuer,
			StartURL: "/auth/" + url.PathEscape(p.Name),
		})
	}
	render.JSON(w, r, resp)
}
