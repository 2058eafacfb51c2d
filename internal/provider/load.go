package provider

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/dropDatabas3/openidconnect/internal/config"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/security/secretbox"
)

// LoadOptions controls how config entries become registry entries.
type LoadOptions struct {
	Plugins    *Plugins
	Box        *secretbox.Box // required only if some secret is sealed
	HTTPClient *http.Client   // used for discovery
}

// Build resolves config entries into provider configs: plugin defaults,
// sealed secrets, then discovery for entries marked discover or missing
// endpoints. It does not register anything.
func Build(ctx context.Context, entries []config.Provider, opts LoadOptions) ([]Config, error) {
	plugins := opts.Plugins
	if plugins == nil {
		plugins = NewPlugins()
	}
	log := logger.From(ctx).With(logger.Component("provider.load"))

	out := make([]Config, 0, len(entries))
	for _, e := range entries {
		c := Config{
			Name:            e.Name,
			Title:           e.Title,
			Plugin:          e.Plugin,
			Issuer:          e.Issuer,
			ClientID:        e.ClientID,
			ClientSecret:    e.ClientSecret,
			AuthURL:         e.AuthURL,
			TokenURL:        e.TokenURL,
			UserinfoURL:     e.UserinfoURL,
			JWKSURL:         e.JWKSURL,
			Scopes:          slices.Clone(e.Scopes),
			RedirectURL:     e.RedirectURL,
			UsePKCE:         e.UsePKCE,
			ExtraAuthParams: e.Extra,
		}

		c, err := plugins.Apply(c)
		if err != nil {
			return nil, err
		}

		if secretbox.IsSealed(c.ClientSecret) {
			if opts.Box == nil {
				return nil, fmt.Errorf("%w: %s: sealed client_secret but no security.secretbox_key", ErrInvalidConfig, c.Name)
			}
			plain, err := opts.Box.Open(c.ClientSecret)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.Name, err)
			}
			c.ClientSecret = plain
		}

		if e.Discover || (c.Issuer != "" && (c.AuthURL == "" || c.TokenURL == "" || c.JWKSURL == "")) {
			c, err = Discover(ctx, opts.HTTPClient, c)
			if err != nil {
				return nil, err
			}
			log.Info("provider discovered", logger.Provider(c.Name))
		}

		if err := Validate(c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Load builds the entries and returns a registry holding them.
func Load(ctx context.Context, entries []config.Provider, opts LoadOptions) (*Registry, error) {
	cfgs, err := Build(ctx, entries, opts)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	if err := r.Replace(cfgs); err != nil {
		return nil, err
	}
	return r, nil
}
