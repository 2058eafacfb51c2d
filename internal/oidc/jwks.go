package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/openidconnect/internal/metrics"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
)

const defaultJWKSTTL = time.Hour

type keySet struct {
	set       jwk.Set
	etag      string
	expiresAt time.Time
}

// JWKSOptions configures a JWKSCache. Zero values get sane defaults.
type JWKSOptions struct {
	HTTPClient *http.Client
	MinTTL     time.Duration
	MaxTTL     time.Duration
	Now        func() time.Time
}

// JWKSCache holds each provider's published signing keys. Reads share a
// lock; fetches for the same JWKS URL are collapsed into one request.
type JWKSCache struct {
	http   *http.Client
	minTTL time.Duration
	maxTTL time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	sets  map[string]*keySet // jwks url -> keys
	group singleflight.Group
}

func NewJWKSCache(opts JWKSOptions) *JWKSCache {
	c := &JWKSCache{
		http:   opts.HTTPClient,
		minTTL: opts.MinTTL,
		maxTTL: opts.MaxTTL,
		now:    opts.Now,
		sets:   make(map[string]*keySet),
	}
	if c.http == nil {
		c.http = NewHTTPClient(DefaultTimeout)
	}
	if c.minTTL <= 0 {
		c.minTTL = time.Minute
	}
	if c.maxTTL <= 0 {
		c.maxTTL = 24 * time.Hour
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Keys returns the verification keys matching kid (every signing key when
// kid is empty). The set is fetched when missing or expired.
func (c *JWKSCache) Keys(ctx context.Context, provider, url, kid string) ([]any, error) {
	ks, err := c.get(ctx, provider, url, false)
	if err != nil {
		return nil, err
	}
	return keysFor(ks.set, kid), nil
}

// Refresh refetches the set regardless of its TTL.
func (c *JWKSCache) Refresh(ctx context.Context, provider, url string) error {
	_, err := c.get(ctx, provider, url, true)
	return err
}

// Invalidate drops the cached set for url.
func (c *JWKSCache) Invalidate(url string) {
	c.mu.Lock()
	delete(c.sets, url)
	c.mu.Unlock()
}

func (c *JWKSCache) get(ctx context.Context, provider, url string, force bool) (*keySet, error) {
	c.mu.RLock()
	ks := c.sets[url]
	c.mu.RUnlock()
	if ks != nil && !force && c.now().Before(ks.expiresAt) {
		return ks, nil
	}

	// the shared fetch must not die with whichever caller started it
	fctx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(url, func() (any, error) {
		return c.fetch(fctx, provider, url)
	})
	if err != nil {
		return nil, err
	}
	return v.(*keySet), nil
}

func (c *JWKSCache) fetch(ctx context.Context, provider, url string) (*keySet, error) {
	ctx, span := tracer.Start(ctx, "oidc.jwks_fetch")
	defer span.End()
	span.SetAttributes(attribute.String("provider", provider))
	log := logger.From(ctx).With(logger.Component("oidc.jwks"), logger.Provider(provider))

	c.mu.RLock()
	prev := c.sets[url]
	c.mu.RUnlock()

	fail := func(e *Error) (*keySet, error) {
		metrics.JWKSRefreshes.WithLabelValues(provider, "error").Inc()
		span.RecordError(e)
		span.SetStatus(codes.Error, "jwks fetch")
		log.Warn("jwks fetch failed", logger.Err(e))
		return nil, e
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(&Error{Kind: ErrJWKSFetch, Provider: provider, Op: "jwks", Err: err})
	}
	req.Header.Set("Accept", "application/json")
	if prev != nil && prev.etag != "" {
		req.Header.Set("If-None-Match", prev.etag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(&Error{Kind: ErrJWKSFetch, Provider: provider, Op: "jwks", Err: err})
	}
	defer resp.Body.Close()

	ttl := c.ttlFrom(resp.Header)
	if resp.StatusCode == http.StatusNotModified && prev != nil {
		next := &keySet{set: prev.set, etag: prev.etag, expiresAt: c.now().Add(ttl)}
		c.store(url, next)
		metrics.JWKSRefreshes.WithLabelValues(provider, "not_modified").Inc()
		return next, nil
	}
	if resp.StatusCode/100 != 2 {
		return fail(&Error{Kind: ErrJWKSFetch, Provider: provider, Op: "jwks", StatusCode: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(&Error{Kind: ErrJWKSFetch, Provider: provider, Op: "jwks", Err: err})
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return fail(&Error{Kind: ErrJWKSFetch, Provider: provider, Op: "jwks", StatusCode: resp.StatusCode, Err: fmt.Errorf("parse: %w", err)})
	}

	next := &keySet{set: set, etag: resp.Header.Get("ETag"), expiresAt: c.now().Add(ttl)}
	c.store(url, next)
	metrics.JWKSRefreshes.WithLabelValues(provider, "ok").Inc()
	log.Debug("jwks refreshed", logger.Count(set.Len()), logger.Duration(ttl))
	return next, nil
}

func (c *JWKSCache) store(url string, ks *keySet) {
	c.mu.Lock()
	c.sets[url] = ks
	c.mu.Unlock()
}

// ttlFrom honours Cache-Control max-age, clamped to [minTTL, maxTTL].
func (c *JWKSCache) ttlFrom(h http.Header) time.Duration {
	ttl := defaultJWKSTTL
	for _, d := range strings.Split(h.Get("Cache-Control"), ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		switch {
		case d == "no-cache" || d == "no-store":
			ttl = 0
		case strings.HasPrefix(d, "max-age="):
			if n, err := strconv.Atoi(strings.TrimPrefix(d, "max-age=")); err == nil && n >= 0 {
				ttl = time.Duration(n) * time.Second
			}
		}
	}
	if ttl < c.minTTL {
		ttl = c.minTTL
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	return ttl
}

func keysFor(set jwk.Set, kid string) []any {
	var out []any
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok {
			continue
		}
		if kid != "" && k.KeyID() != kid {
			continue
		}
		if use := k.KeyUsage(); use != "" && use != "sig" {
			continue
		}
		var raw any
		if err := k.Raw(&raw); err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}
