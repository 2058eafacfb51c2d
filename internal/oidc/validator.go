package oidc

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/metrics"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/provider"
)

// DefaultClockSkew is the tolerance applied to iat and nbf.
const DefaultClockSkew = 60 * time.Second

// SigningAlgs are the accepted ID token algorithms. "none" and HMAC never are.
var SigningAlgs = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}

// Expectations are the per-flow values an ID token is checked against.
type Expectations struct {
	Provider    string
	Issuer      string
	Audience    string // client_id
	Nonce       string
	JWKSURL     string
	UserinfoURL string
}

func ExpectationsFor(p provider.Config, nonce string) Expectations {
	return Expectations{
		Provider:    p.Name,
		Issuer:      p.Issuer,
		Audience:    p.ClientID,
		Nonce:       nonce,
		JWKSURL:     p.JWKSURL,
		UserinfoURL: p.UserinfoURL,
	}
}

type ValidatorOptions struct {
	JWKS       *JWKSCache
	HTTPClient *http.Client
	ClockSkew  time.Duration
	// RequiredClaims must be present after the userinfo merge; sub always is.
	RequiredClaims []string
	Now            func() time.Time
}

// Validator checks ID tokens and merges userinfo claims.
type Validator struct {
	jwks     *JWKSCache
	http     *http.Client
	skew     time.Duration
	required []string
	now      func() time.Time
	parser   *jwtv5.Parser
}

func NewValidator(opts ValidatorOptions) *Validator {
	v := &Validator{
		jwks:     opts.JWKS,
		http:     opts.HTTPClient,
		skew:     opts.ClockSkew,
		required: append([]string{"sub"}, opts.RequiredClaims...),
		now:      opts.Now,
		// registered claims are checked by hand below, with our own skew rules
		parser: jwtv5.NewParser(jwtv5.WithValidMethods(SigningAlgs), jwtv5.WithoutClaimsValidation()),
	}
	if v.http == nil {
		v.http = NewHTTPClient(DefaultTimeout)
	}
	if v.jwks == nil {
		v.jwks = NewJWKSCache(JWKSOptions{HTTPClient: v.http})
	}
	if v.skew <= 0 {
		v.skew = DefaultClockSkew
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Validate checks ts.IDToken against exp and returns the merged claims. On
// success ts.IDClaims holds the ID token's own claims.
//
// Order: structure, lifetime, signature, issuer, audience, nonce, userinfo.
// An expired token is reported as expired even when its signature is bad.
func (v *Validator) Validate(ctx context.Context, ts *TokenSet, exp Expectations) (_ claims.Claims, err error) {
	ctx, span := tracer.Start(ctx, "oidc.validate")
	defer span.End()
	span.SetAttributes(attribute.String("provider", exp.Provider))
	defer func() {
		if err != nil {
			metrics.ValidationFailures.WithLabelValues(exp.Provider, Reason(err)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, Reason(err))
			logger.From(ctx).Warn("id token rejected",
				logger.Component("oidc.validator"), logger.Provider(exp.Provider),
				logger.Reason(Reason(err)), logger.Err(err))
		}
	}()

	if ts == nil || ts.IDToken == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedToken)
	}
	hdr, idc, err := parseUnverified(ts.IDToken)
	if err != nil {
		return nil, err
	}
	if err := v.checkLifetime(idc); err != nil {
		return nil, err
	}
	if err := v.verifySignature(ctx, ts.IDToken, hdr, exp); err != nil {
		return nil, err
	}
	if iss := idc.String("iss"); iss != exp.Issuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerMismatch, iss)
	}
	if err := checkAudience(idc, exp.Audience); err != nil {
		return nil, err
	}
	if got := idc.String("nonce"); got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(exp.Nonce)) != 1 {
		return nil, ErrNonceMismatch
	}

	ts.IDClaims = idc
	return v.withUserinfo(ctx, ts, idc, exp)
}

type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

func parseUnverified(raw string) (header, claims.Claims, error) {
	var h header
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return h, nil, fmt.Errorf("%w: expected three segments", ErrMalformedToken)
	}
	hb, err := decodeSegment(parts[0])
	if err != nil {
		return h, nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	if err := json.Unmarshal(hb, &h); err != nil || h.Alg == "" {
		return h, nil, fmt.Errorf("%w: header is not a JOSE header", ErrMalformedToken)
	}
	pb, err := decodeSegment(parts[1])
	if err != nil {
		return h, nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	var c claims.Claims
	if err := json.Unmarshal(pb, &c); err != nil || c == nil {
		return h, nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedToken)
	}
	if _, err := decodeSegment(parts[2]); err != nil {
		return h, nil, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}
	if c.Subject() == "" {
		return h, nil, fmt.Errorf("%w: missing sub", ErrMalformedToken)
	}
	return h, c, nil
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func (v *Validator) checkLifetime(c claims.Claims) error {
	now := v.now()
	expAt, ok := numericDate(c, "exp")
	if !ok {
		return fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	iat, ok := numericDate(c, "iat")
	if !ok {
		return fmt.Errorf("%w: missing iat", ErrMalformedToken)
	}
	if !now.Before(expAt) {
		return fmt.Errorf("%w: at %s", ErrTokenExpired, expAt.UTC().Format(time.RFC3339))
	}
	if iat.After(now.Add(v.skew)) {
		return fmt.Errorf("%w: issued at %s", ErrTokenNotYetValid, iat.UTC().Format(time.RFC3339))
	}
	if nbf, ok := numericDate(c, "nbf"); ok && nbf.After(now.Add(v.skew)) {
		return fmt.Errorf("%w: not before %s", ErrTokenNotYetValid, nbf.UTC().Format(time.RFC3339))
	}
	return nil
}

func numericDate(c claims.Claims, name string) (time.Time, bool) {
	var f float64
	switch n := c[name].(type) {
	case float64:
		f = n
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// verifySignature tries the cached keys, then refreshes the JWKS once and
// tries again.
func (v *Validator) verifySignature(ctx context.Context, raw string, h header, exp Expectations) error {
	if !supportedAlg(h.Alg) {
		return fmt.Errorf("%w: %w %q", ErrSignatureVerification, ErrUnsupportedSigningAlgo, h.Alg)
	}
	keys, err := v.jwks.Keys(ctx, exp.Provider, exp.JWKSURL, h.Kid)
	if err != nil {
		return err
	}
	if v.tryKeys(raw, keys) {
		return nil
	}

	if err := v.jwks.Refresh(ctx, exp.Provider, exp.JWKSURL); err != nil {
		return err
	}
	keys, err = v.jwks.Keys(ctx, exp.Provider, exp.JWKSURL, h.Kid)
	if err != nil {
		return err
	}
	if v.tryKeys(raw, keys) {
		return nil
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no key for kid %q", ErrSignatureVerification, h.Kid)
	}
	return ErrSignatureVerification
}

func (v *Validator) tryKeys(raw string, keys []any) bool {
	for _, k := range keys {
		key := k
		tok, err := v.parser.Parse(raw, func(*jwtv5.Token) (any, error) { return key, nil })
		if err == nil && tok.Valid {
			return true
		}
	}
	return false
}

func supportedAlg(alg string) bool {
	for _, a := range SigningAlgs {
		if a == alg {
			return true
		}
	}
	return false
}

// checkAudience requires client_id in aud. With several audiences azp must
// name the client; a present azp always must.
func checkAudience(c claims.Claims, clientID string) error {
	aud := c.Strings("aud")
	found := false
	for _, a := range aud {
		if a == clientID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q not in aud", ErrAudienceMismatch, clientID)
	}
	azp := c.String("azp")
	if len(aud) > 1 && azp == "" {
		return fmt.Errorf("%w: azp required with multiple audiences", ErrAudienceMismatch)
	}
	if azp != "" && azp != clientID {
		return fmt.Errorf("%w: azp %q", ErrAudienceMismatch, azp)
	}
	return nil
}

func (v *Validator) withUserinfo(ctx context.Context, ts *TokenSet, idc claims.Claims, exp Expectations) (claims.Claims, error) {
	missing := idc.Missing(v.required...)
	if exp.UserinfoURL == "" || ts.AccessToken == "" {
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientClaims, strings.Join(missing, ", "))
		}
		return idc.Clone(), nil
	}

	ui, err := v.fetchUserinfo(ctx, exp, ts.AccessToken)
	if err != nil {
		if len(missing) == 0 {
			logger.From(ctx).Warn("userinfo unavailable, continuing with id token claims",
				logger.Component("oidc.validator"), logger.Provider(exp.Provider), logger.Err(err))
			return idc.Clone(), nil
		}
		return nil, err
	}
	merged, err := claims.Merge(idc, ui)
	if err != nil {
		return nil, &Error{Kind: ErrUserinfoFetch, Provider: exp.Provider, Op: "userinfo", Err: err}
	}
	if missing := merged.Missing(v.required...); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientClaims, strings.Join(missing, ", "))
	}
	return merged, nil
}

func (v *Validator) fetchUserinfo(ctx context.Context, exp Expectations, accessToken string) (claims.Claims, error) {
	ctx, span := tracer.Start(ctx, "oidc.userinfo")
	defer span.End()

	fail := func(status int, err error) (claims.Claims, error) {
		e := &Error{Kind: ErrUserinfoFetch, Provider: exp.Provider, Op: "userinfo", StatusCode: status, Err: err}
		span.RecordError(e)
		span.SetStatus(codes.Error, "userinfo")
		return nil, e
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exp.UserinfoURL, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := v.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fail(resp.StatusCode, nil)
	}
	var ui claims.Claims
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil || ui == nil {
		if err == nil {
			err = errors.New("empty body")
		}
		return fail(resp.StatusCode, fmt.Errorf("decode: %w", err))
	}
	return ui, nil
}
