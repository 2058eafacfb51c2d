package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var secret = []byte(strings.Repeat("k", 32))

func TestCookieRoundTrip(t *testing.T) {
	m, err := NewCookie(CookieConfig{Secret: secret, TTL: time.Hour, Secure: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s, err := m.Establish(rec, httptest.NewRequest(http.MethodGet, "/", nil), "acc-1", "google")
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "oidc_session", cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.True(t, cookies[0].Secure)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	got, err := m.Current(req)
	require.NoError(t, err)
	require.Equal(t, "acc-1", got.AccountID)
	require.Equal(t, "google", got.Provider)
	require.Equal(t, s.ID, got.ID)
}

func TestCookieRejectsTamperingAndExpiry(t *testing.T) {
	m, err := NewCookie(CookieConfig{Secret: secret, TTL: time.Minute})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	_, err = m.Establish(rec, nil, "acc-1", "google")
	require.NoError(t, err)
	ck := rec.Result().Cookies()[0]

	other, err := NewCookie(CookieConfig{Secret: []byte(strings.Repeat("x", 32))})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	_, err = other.Current(req)
	require.ErrorIs(t, err, ErrNoSession)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = m.Current(req)
	require.ErrorIs(t, err, ErrNoSession)

	_, err = m.Current(httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, ErrNoSession)
}

func TestClearExpiresCookie(t *testing.T) {
	m, err := NewCookie(CookieConfig{Name: "sid", Secret: secret, SameSite: "Strict"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	m.Clear(rec, nil)
	ck := rec.Result().Cookies()[0]
	require.Equal(t, "sid", ck.Name)
	require.Equal(t, "", ck.Value)
	require.Less(t, ck.MaxAge, 0)
	require.Equal(t, http.SameSiteStrictMode, ck.SameSite)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewCookie(CookieConfig{Secret: []byte("short")})
	require.Error(t, err)
}
