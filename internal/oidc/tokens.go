// Package oidc talks to OpenID providers: authorization URLs, the code
// exchange, JWKS retrieval and ID token validation.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/metrics"
	"github.com/dropDatabas3/openidconnect/internal/provider"
)

var tracer = otel.Tracer("openidconnect/oidc")

// TokenSet is what the token endpoint returned for one flow. IDClaims is
// filled by the validator.
type TokenSet struct {
	IDToken      string
	IDClaims     claims.Claims
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// String keeps tokens out of logs.
func (t TokenSet) String() string {
	return fmt.Sprintf("TokenSet{type=%s expires=%s refresh=%t}", t.TokenType, t.ExpiresAt.Format(time.RFC3339), t.RefreshToken != "")
}

// AuthRequest carries the per-flow values put on the authorization URL.
type AuthRequest struct {
	State        string
	Nonce        string
	CodeVerifier string // empty disables PKCE
	Scopes       []string
}

// Client builds authorization URLs and redeems codes.
type Client struct {
	http *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{http: httpClient}
}

func oauthConfig(p provider.Config, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = p.Scopes
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// AuthCodeURL returns the provider's authorization URL for r.
func (c *Client) AuthCodeURL(p provider.Config, r AuthRequest) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", r.Nonce)}
	if r.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(r.CodeVerifier))
	}
	for k, v := range p.ExtraAuthParams {
		switch k {
		case "state", "nonce", "client_id", "redirect_uri", "response_type", "scope", "code_challenge", "code_challenge_method":
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return oauthConfig(p, r.Scopes).AuthCodeURL(r.State, opts...)
}

// Exchange redeems code at the provider's token endpoint. A response without
// an id_token is an exchange failure.
func (c *Client) Exchange(ctx context.Context, p provider.Config, code, verifier string) (*TokenSet, error) {
	ctx, span := tracer.Start(ctx, "oidc.token_exchange", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("provider", p.Name))

	start := time.Now()
	defer func() {
		metrics.TokenExchangeSeconds.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
	}()

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	tok, err := oauthConfig(p, nil).Exchange(ctx, code, opts...)
	if err != nil {
		e := exchangeError(p.Name, err)
		span.RecordError(e)
		span.SetStatus(codes.Error, "token exchange")
		return nil, e
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		e := &Error{Kind: ErrTokenExchange, Provider: p.Name, Op: "exchange", Err: errors.New("response has no id_token")}
		span.SetStatus(codes.Error, "no id_token")
		return nil, e
	}
	return &TokenSet{
		IDToken:      idToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
	}, nil
}

func exchangeError(providerName string, err error) *Error {
	e := &Error{Kind: ErrTokenExchange, Provider: providerName, Op: "exchange"}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			e.StatusCode = re.Response.StatusCode
		}
		e.Code = re.ErrorCode
		if re.ErrorDescription != "" {
			e.Err = errors.New(re.ErrorDescription)
		}
		return e
	}
	e.Err = err
	return e
}
