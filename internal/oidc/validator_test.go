package oidc_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/openidconnect/internal/oidc"
	"github.com/dropDatabas3/openidconnect/internal/oidc/oidctest"
	"github.com/dropDatabas3/openidconnect/internal/provider"
)

const nonce = "n-0123456789abcdef"

func setup(t *testing.T, required ...string) (*oidctest.Provider, provider.Config, *oidc.Validator) {
	t.Helper()
	op := oidctest.New(t)
	cfg := op.Config("fake", "https://rp.example.com/auth/fake/callback")
	v := oidc.NewValidator(oidc.ValidatorOptions{
		HTTPClient:     op.Server.Client(),
		RequiredClaims: required,
	})
	return op, cfg, v
}

func withNonce(c map[string]any) map[string]any {
	c["nonce"] = nonce
	return c
}

func TestValidateMergesUserinfo(t *testing.T) {
	op, cfg, v := setup(t, "email")
	op.SetUserinfo(map[string]any{"email": "ada@example.com", "name": "from userinfo"})

	c := withNonce(op.Claims("user-1"))
	c["name"] = "Ada"
	ts := &oidc.TokenSet{IDToken: op.Sign(t, c), AccessToken: issueAccess(t, op, c)}

	got, err := v.Validate(context.Background(), ts, oidc.ExpectationsFor(cfg, nonce))
	require.NoError(t, err)
	require.Equal(t, "user-1", got.Subject())
	require.Equal(t, "ada@example.com", got.String("email"))
	require.Equal(t, "Ada", got.String("name"), "id token wins on conflict")
	require.Equal(t, "user-1", ts.IDClaims.Subject())
	require.False(t, ts.IDClaims.Has("email"))
}

// issueAccess runs a code through the fake token endpoint so /userinfo
// recognises the access token.
func issueAccess(t *testing.T, op *oidctest.Provider, c map[string]any) string {
	t.Helper()
	cl := oidc.NewClient(op.Server.Client())
	ts, err := cl.Exchange(context.Background(), op.Config("fake", "https://rp.example.com/cb"), op.IssueCode(c, ""), "")
	require.NoError(t, err)
	return ts.AccessToken
}

func TestExpiredWinsOverBadSignature(t *testing.T) {
	op, cfg, v := setup(t)
	c := withNonce(op.Claims("user-1"))
	c["iat"] = time.Now().Add(-2 * time.Hour).Unix()
	c["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.SignUnknown(t, c)}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrTokenExpired)
	require.Zero(t, op.JWKSHits.Load(), "expired tokens are rejected before any key lookup")
}

func TestExpiryIsStrict(t *testing.T) {
	op := oidctest.New(t)
	cfg := op.Config("fake", "https://rp.example.com/cb")
	now := time.Now().Truncate(time.Second)
	v := oidc.NewValidator(oidc.ValidatorOptions{HTTPClient: op.Server.Client(), Now: func() time.Time { return now }})

	c := withNonce(op.Claims("user-1"))
	c["exp"] = now.Unix()
	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c)}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrTokenExpired)
}

func TestIssuedInFuture(t *testing.T) {
	op, cfg, v := setup(t)

	c := withNonce(op.Claims("user-1"))
	c["iat"] = time.Now().Add(30 * time.Second).Unix()
	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c)}, oidc.ExpectationsFor(cfg, nonce))
	require.NoError(t, err, "within skew")

	c["iat"] = time.Now().Add(5 * time.Minute).Unix()
	_, err = v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c)}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrTokenNotYetValid)
}

func TestNonceMismatch(t *testing.T) {
	op, cfg, v := setup(t)
	c := op.Claims("user-1")
	c["nonce"] = "some-other-nonce"

	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c)}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrNonceMismatch)

	delete(c, "nonce")
	_, err = v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c)}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrNonceMismatch)
}

func TestIssuerMismatch(t *testing.T) {
	op, cfg, v := setup(t)
	c := withNonce(op.Claims("user-1"))
	c["iss"] = "https://evil.example.com"

	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c)}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrIssuerMismatch)
}

func TestAudienceRules(t *testing.T) {
	op, cfg, v := setup(t)
	exp := oidc.ExpectationsFor(cfg, nonce)

	cases := []struct {
		name string
		aud  any
		azp  string
		ok   bool
	}{
		{"single", op.ClientID, "", true},
		{"other client", "someone-else", "", false},
		{"multi with azp", []string{op.ClientID, "api"}, op.ClientID, true},
		{"multi without azp", []string{op.ClientID, "api"}, "", false},
		{"azp mismatch", op.ClientID, "api", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := withNonce(op.Claims("user-1"))
			c["aud"] = tc.aud
			if tc.azp != "" {
				c["azp"] = tc.azp
			}
			_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c)}, exp)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, oidc.ErrAudienceMismatch)
		})
	}
}

func TestMalformedTokens(t *testing.T) {
	op, cfg, v := setup(t)
	exp := oidc.ExpectationsFor(cfg, nonce)

	noSub := withNonce(op.Claims(""))
	noExp := withNonce(op.Claims("user-1"))
	delete(noExp, "exp")

	for name, raw := range map[string]string{
		"empty":       "",
		"two parts":   "abc.def",
		"not base64":  "###.###.###",
		"not json":    "YWJj.YWJj.YWJj",
		"missing sub": op.Sign(t, noSub),
		"missing exp": op.Sign(t, noExp),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: raw}, exp)
			require.ErrorIs(t, err, oidc.ErrMalformedToken)
		})
	}
}

func TestRejectsSymmetricAlgorithm(t *testing.T) {
	op, cfg, v := setup(t)
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims(withNonce(op.Claims("user-1"))))
	raw, err := tok.SignedString([]byte(op.ClientSecret))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), &oidc.TokenSet{IDToken: raw}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrSignatureVerification)
	require.ErrorIs(t, err, oidc.ErrUnsupportedSigningAlgo)
}

func TestKeyRotationRefreshesOnce(t *testing.T) {
	op, cfg, v := setup(t)
	exp := oidc.ExpectationsFor(cfg, nonce)

	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, withNonce(op.Claims("user-1")))}, exp)
	require.NoError(t, err)
	require.EqualValues(t, 1, op.JWKSHits.Load())

	// cached: no new fetch
	_, err = v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, withNonce(op.Claims("user-1")))}, exp)
	require.NoError(t, err)
	require.EqualValues(t, 1, op.JWKSHits.Load())

	op.Rotate(t)
	_, err = v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, withNonce(op.Claims("user-1")))}, exp)
	require.NoError(t, err)
	require.EqualValues(t, 2, op.JWKSHits.Load())
}

func TestUnknownKeyFailsAfterOneRefresh(t *testing.T) {
	op, cfg, v := setup(t)

	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.SignUnknown(t, withNonce(op.Claims("user-1")))}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrSignatureVerification)
	require.EqualValues(t, 2, op.JWKSHits.Load())
}

func TestJWKSUnavailable(t *testing.T) {
	op, cfg, v := setup(t)
	cfg.JWKSURL = op.Issuer + "/missing"

	_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, withNonce(op.Claims("user-1")))}, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrJWKSFetch)
	var oe *oidc.Error
	require.True(t, errors.As(err, &oe))
	require.Equal(t, http.StatusNotFound, oe.StatusCode)
}

func TestUserinfoFailureTolerance(t *testing.T) {
	t.Run("claims already present", func(t *testing.T) {
		op, cfg, v := setup(t, "email")
		op.FailUserinfo(http.StatusBadGateway)
		c := withNonce(op.Claims("user-1"))
		c["email"] = "ada@example.com"

		got, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c), AccessToken: "whatever"}, oidc.ExpectationsFor(cfg, nonce))
		require.NoError(t, err)
		require.Equal(t, "ada@example.com", got.String("email"))
	})

	t.Run("claims missing", func(t *testing.T) {
		op, cfg, v := setup(t, "email")
		op.FailUserinfo(http.StatusBadGateway)
		c := withNonce(op.Claims("user-1"))

		_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, c), AccessToken: "whatever"}, oidc.ExpectationsFor(cfg, nonce))
		require.ErrorIs(t, err, oidc.ErrUserinfoFetch)
	})

	t.Run("no endpoint", func(t *testing.T) {
		op, cfg, v := setup(t, "email")
		cfg.UserinfoURL = ""
		_, err := v.Validate(context.Background(), &oidc.TokenSet{IDToken: op.Sign(t, withNonce(op.Claims("user-1")))}, oidc.ExpectationsFor(cfg, nonce))
		require.ErrorIs(t, err, oidc.ErrInsufficientClaims)
	})
}

func TestUserinfoSubjectMismatch(t *testing.T) {
	op, cfg, v := setup(t)
	op.SetUserinfo(map[string]any{"sub": "someone-else"})
	c := withNonce(op.Claims("user-1"))
	ts := &oidc.TokenSet{IDToken: op.Sign(t, c), AccessToken: issueAccess(t, op, c)}

	_, err := v.Validate(context.Background(), ts, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrUserinfoFetch)
}

func TestUserinfoWithoutSubject(t *testing.T) {
	op, cfg, v := setup(t)
	op.SetUserinfo(map[string]any{"sub": "", "email": "ada@example.com"})
	c := withNonce(op.Claims("user-1"))
	ts := &oidc.TokenSet{IDToken: op.Sign(t, c), AccessToken: issueAccess(t, op, c)}

	_, err := v.Validate(context.Background(), ts, oidc.ExpectationsFor(cfg, nonce))
	require.ErrorIs(t, err, oidc.ErrUserinfoFetch)
}
