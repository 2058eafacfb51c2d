package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Discover fills the endpoints of c that are still empty from the issuer's
// /.well-known/openid-configuration. The document's issuer must equal c.Issuer.
func Discover(ctx context.Context, client *http.Client, c Config) (Config, error) {
	ctx, span := otel.Tracer("openidconnect/provider").Start(ctx, "provider.discover", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("provider", c.Name))

	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	p, err := oidc.NewProvider(ctx, c.Issuer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery")
		return c, fmt.Errorf("%w: %s: %v", ErrDiscovery, c.Name, err)
	}

	var meta struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := p.Claims(&meta); err != nil {
		return c, fmt.Errorf("%w: %s: %v", ErrDiscovery, c.Name, err)
	}

	ep := p.Endpoint()
	return c.merge(Config{
		AuthURL:     ep.AuthURL,
		TokenURL:    ep.TokenURL,
		UserinfoURL: p.UserInfoEndpoint(),
		JWKSURL:     meta.JWKSURI,
	}), nil
}
