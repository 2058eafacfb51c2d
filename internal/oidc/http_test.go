package oidc

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakyRT struct {
	calls atomic.Int32
	fail  error
	resp  *http.Response
}

func (f *flakyRT) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.calls.Add(1) == 1 && f.fail != nil {
		return nil, f.fail
	}
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		if string(b) != "payload" {
			return nil, errors.New("body not replayed")
		}
	}
	return f.resp, nil
}

func okResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("{}")), Header: http.Header{}}
}

func TestRetryOnceOnTransportError(t *testing.T) {
	base := &flakyRT{fail: io.ErrUnexpectedEOF, resp: okResponse(200)}
	rt := &retryTransport{base: base}

	req, _ := http.NewRequest(http.MethodPost, "http://op.example/token", strings.NewReader("payload"))
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.EqualValues(t, 2, base.calls.Load())
}

func TestNoRetryOnHTTPStatus(t *testing.T) {
	base := &flakyRT{resp: okResponse(503)}
	rt := &retryTransport{base: base}

	req, _ := http.NewRequest(http.MethodGet, "http://op.example/jwks", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, 503, resp.StatusCode)
	require.EqualValues(t, 1, base.calls.Load())
}

func TestJWKSTTLFromCacheControl(t *testing.T) {
	c := NewJWKSCache(JWKSOptions{MinTTL: time.Minute, MaxTTL: time.Hour})
	for hdr, want := range map[string]time.Duration{
		"":                    time.Hour,
		"public, max-age=600": 10 * time.Minute,
		"max-age=5":           time.Minute,
		"max-age=999999":      time.Hour,
		"no-store":            time.Minute,
		"max-age=garbage":     time.Hour,
	} {
		h := http.Header{}
		if hdr != "" {
			h.Set("Cache-Control", hdr)
		}
		require.Equal(t, want, c.ttlFrom(h), hdr)
	}
}
