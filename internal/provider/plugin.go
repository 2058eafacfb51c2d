package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Plugin declares a kind of provider: a title and the defaults merged under
// an explicit configuration. Derive, when set, computes issuer-relative
// endpoints (Keycloak realms, Auth0 tenants).
type Plugin struct {
	ID       string
	Title    string
	Defaults Config
	Derive   func(c Config) Config
}

// Plugins is the set of plugin declarations known at startup.
type Plugins struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewPlugins returns a set preloaded with the built-in declarations.
func NewPlugins() *Plugins {
	ps := &Plugins{plugins: make(map[string]Plugin)}
	for _, p := range builtins() {
		ps.plugins[p.ID] = p
	}
	return ps
}

// Declare adds or overrides a plugin declaration.
func (ps *Plugins) Declare(p Plugin) error {
	if p.ID == "" {
		return fmt.Errorf("%w: plugin id is required", ErrInvalidConfig)
	}
	ps.mu.Lock()
	ps.plugins[p.ID] = p
	ps.mu.Unlock()
	return nil
}

func (ps *Plugins) Get(id string) (Plugin, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	p, ok := ps.plugins[id]
	return p, ok
}

// IDs returns the declared plugin ids, sorted.
func (ps *Plugins) IDs() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]string, 0, len(ps.plugins))
	for id := range ps.plugins {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Apply merges the plugin defaults under c.
func (ps *Plugins) Apply(c Config) (Config, error) {
	id := c.Plugin
	if id == "" {
		id = "generic"
	}
	p, ok := ps.Get(id)
	if !ok {
		return c, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	c.Plugin = id
	c = c.merge(p.Defaults)
	if p.Derive != nil {
		c = c.merge(p.Derive(c))
	}
	if c.Title == "" {
		c.Title = c.Name
	}
	return c, nil
}

func builtins() []Plugin {
	return []Plugin{
		{
			ID:    "generic",
			Title: "OpenID Connect",
			Defaults: Config{
				Scopes: []string{"openid", "email", "profile"},
			},
		},
		{
			ID:    "google",
			Title: "Google",
			Defaults: Config{
				Title:       "Google",
				Issuer:      "https://accounts.google.com",
				AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL:    "https://oauth2.googleapis.com/token",
				UserinfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
				JWKSURL:     "https://www.googleapis.com/oauth2/v3/certs",
				Scopes:      []string{"openid", "email", "profile"},
			},
		},
		{
			ID:    "keycloak",
			Title: "Keycloak",
			Defaults: Config{
				Scopes: []string{"openid", "email", "profile"},
			},
			Derive: func(c Config) Config {
				if c.Issuer == "" {
					return Config{}
				}
				base := strings.TrimRight(c.Issuer, "/") + "/protocol/openid-connect"
				return Config{
					AuthURL:     base + "/auth",
					TokenURL:    base + "/token",
					UserinfoURL: base + "/userinfo",
					JWKSURL:     base + "/certs",
				}
			},
		},
	}
}
