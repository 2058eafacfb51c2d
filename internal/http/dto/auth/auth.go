// Package auth holds the JSON shapes of the /auth endpoints.
package auth

import "time"

// ProviderInfo es un provider configurado, sin secretos.
type ProviderInfo struct {
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	Issuer   string `json:"issuer"`
	StartURL string `json:"start_url"`
}

type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// SessionResponse: GET /auth/session. CSRFToken se repite en la cookie
// oidc_csrf y va en el header X-CSRF-Token de los POST/DELETE.
type SessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	AccountID     string    `json:"account_id,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	CSRFToken     string    `json:"csrf_token"`
}

// LinkInfo is one identity linked to the signed-in account.
type LinkInfo struct {
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	LinkedAt time.Time `json:"linked_at"`
}

type LinksResponse struct {
	AccountID string     `json:"account_id"`
	Links     []LinkInfo `json:"links"`
}
