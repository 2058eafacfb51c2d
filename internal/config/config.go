package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the whole relying-party configuration. Durations are kept as
// strings ("10m", "60s") and resolved through the accessor methods.
type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env" toml:"env" env:"ENV"`
		Name    string `yaml:"name" toml:"name" env:"NAME"`
		BaseURL string `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	} `yaml:"app" toml:"app" envPrefix:"APP_"`

	Server struct {
		Addr            string `yaml:"addr" toml:"addr" env:"ADDR"`
		ReadTimeout     string `yaml:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT"`
		WriteTimeout    string `yaml:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
		ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	} `yaml:"server" toml:"server" envPrefix:"SERVER_"`

	Log struct {
		Level string `yaml:"level" toml:"level" env:"LEVEL"`
	} `yaml:"log" toml:"log" envPrefix:"LOG_"`

	Flow struct {
		StateTTL        string `yaml:"state_ttl" toml:"state_ttl" env:"STATE_TTL"`
		DefaultRedirect string `yaml:"default_redirect" toml:"default_redirect" env:"DEFAULT_REDIRECT"`
		// FailureRedirect, si está seteado, recibe ?error=<code> en vez de una respuesta JSON.
		FailureRedirect string   `yaml:"failure_redirect" toml:"failure_redirect" env:"FAILURE_REDIRECT"`
		AllowedOrigins  []string `yaml:"allowed_origins" toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"flow" toml:"flow" envPrefix:"FLOW_"`

	Cache struct {
		// memory | redis. Backs the flow-state store and the rate limiter.
		Kind  string `yaml:"kind" toml:"kind" env:"KIND"`
		Redis struct {
			Addr     string `yaml:"addr" toml:"addr" env:"ADDR"`
			Password string `yaml:"password" toml:"password" env:"PASSWORD"`
			DB       int    `yaml:"db" toml:"db" env:"DB"`
			Prefix   string `yaml:"prefix" toml:"prefix" env:"PREFIX"`
		} `yaml:"redis" toml:"redis" envPrefix:"REDIS_"`
	} `yaml:"cache" toml:"cache" envPrefix:"CACHE_"`

	Storage struct {
		// memory | postgres | sqlite
		Driver   string `yaml:"driver" toml:"driver" env:"DRIVER"`
		DSN      string `yaml:"dsn" toml:"dsn" env:"DSN"`
		MaxConns int32  `yaml:"max_conns" toml:"max_conns" env:"MAX_CONNS"`
	} `yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`

	Validator struct {
		ClockSkew   string `yaml:"clock_skew" toml:"clock_skew" env:"CLOCK_SKEW"`
		HTTPTimeout string `yaml:"http_timeout" toml:"http_timeout" env:"HTTP_TIMEOUT"`
		JWKSMinTTL  string `yaml:"jwks_min_ttl" toml:"jwks_min_ttl" env:"JWKS_MIN_TTL"`
		JWKSMaxTTL  string `yaml:"jwks_max_ttl" toml:"jwks_max_ttl" env:"JWKS_MAX_TTL"`
	} `yaml:"validator" toml:"validator" envPrefix:"VALIDATOR_"`

	Linker struct {
		UsernameClaims []string `yaml:"username_claims" toml:"username_claims" env:"USERNAME_CLAIMS" envSeparator:","`
		EmailClaim     string   `yaml:"email_claim" toml:"email_claim" env:"EMAIL_CLAIM"`
		RequiredClaims []string `yaml:"required_claims" toml:"required_claims" env:"REQUIRED_CLAIMS" envSeparator:","`
		// AllowCreate=false deniega la creación de cuentas nuevas (solo login/link).
		AllowCreate          *bool `yaml:"allow_create" toml:"allow_create" env:"ALLOW_CREATE"`
		RequireVerifiedEmail bool  `yaml:"require_verified_email" toml:"require_verified_email" env:"REQUIRE_VERIFIED_EMAIL"`
	} `yaml:"linker" toml:"linker" envPrefix:"LINKER_"`

	Rate struct {
		Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
		Limit   int    `yaml:"limit" toml:"limit" env:"LIMIT"`
		Window  string `yaml:"window" toml:"window" env:"WINDOW"`
	} `yaml:"rate" toml:"rate" envPrefix:"RATE_"`

	Events struct {
		AMQPURL    string `yaml:"amqp_url" toml:"amqp_url" env:"AMQP_URL"`
		Exchange   string `yaml:"exchange" toml:"exchange" env:"EXCHANGE"`
		RoutingKey string `yaml:"routing_key" toml:"routing_key" env:"ROUTING_KEY"`
	} `yaml:"events" toml:"events" envPrefix:"EVENTS_"`

	Security struct {
		// SecretboxKey descifra los client_secret "sealed:..." (base64, 32 bytes).
		SecretboxKey  string `yaml:"secretbox_key" toml:"secretbox_key" env:"SECRETBOX_KEY"`
		SessionSecret string `yaml:"session_secret" toml:"session_secret" env:"SESSION_SECRET"`
		SessionCookie string `yaml:"session_cookie" toml:"session_cookie" env:"SESSION_COOKIE"`
		SessionTTL    string `yaml:"session_ttl" toml:"session_ttl" env:"SESSION_TTL"`
		CookieSecure  bool   `yaml:"cookie_secure" toml:"cookie_secure" env:"COOKIE_SECURE"`
	} `yaml:"security" toml:"security" envPrefix:"SECURITY_"`

	Providers []Provider `yaml:"providers" toml:"providers" env:"-"`
}

// Provider is one configured identity provider. Endpoints left empty are
// filled from the plugin defaults or from discovery.
type Provider struct {
	Name         string            `yaml:"name" toml:"name"`
	Title        string            `yaml:"title" toml:"title"`
	Plugin       string            `yaml:"plugin" toml:"plugin"`
	Issuer       string            `yaml:"issuer" toml:"issuer"`
	ClientID     string            `yaml:"client_id" toml:"client_id"`
	ClientSecret string            `yaml:"client_secret" toml:"client_secret"`
	AuthURL      string            `yaml:"authorization_endpoint" toml:"authorization_endpoint"`
	TokenURL     string            `yaml:"token_endpoint" toml:"token_endpoint"`
	UserinfoURL  string            `yaml:"userinfo_endpoint" toml:"userinfo_endpoint"`
	JWKSURL      string            `yaml:"jwks_endpoint" toml:"jwks_endpoint"`
	Scopes       []string          `yaml:"scopes" toml:"scopes"`
	RedirectURL  string            `yaml:"redirect_url" toml:"redirect_url"`
	UsePKCE      bool              `yaml:"use_pkce" toml:"use_pkce"`
	Discover     bool              `yaml:"discover" toml:"discover"`
	Extra        map[string]string `yaml:"extra_auth_params" toml:"extra_auth_params"`
}

// Load reads a YAML (default) or TOML file, applies defaults and then the
// environment overlay. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	c.setDefaults()
	return &c, nil
}

func (c *Config) setDefaults() {
	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Name == "" {
		c.App.Name = "openidconnect"
	}
	if c.App.BaseURL == "" {
		c.App.BaseURL = "http://localhost:8080"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Flow.StateTTL == "" {
		c.Flow.StateTTL = "10m"
	}
	if c.Flow.DefaultRedirect == "" {
		c.Flow.DefaultRedirect = "/"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "oidc:"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 10
	}
	if c.Validator.ClockSkew == "" {
		c.Validator.ClockSkew = "60s"
	}
	if c.Validator.HTTPTimeout == "" {
		c.Validator.HTTPTimeout = "10s"
	}
	if c.Validator.JWKSMinTTL == "" {
		c.Validator.JWKSMinTTL = "1m"
	}
	if c.Validator.JWKSMaxTTL == "" {
		c.Validator.JWKSMaxTTL = "24h"
	}
	if len(c.Linker.UsernameClaims) == 0 {
		c.Linker.UsernameClaims = []string{"preferred_username", "email", "sub"}
	}
	if c.Linker.EmailClaim == "" {
		c.Linker.EmailClaim = "email"
	}
	if c.Linker.AllowCreate == nil {
		t := true
		c.Linker.AllowCreate = &t
	}
	if c.Rate.Limit == 0 {
		c.Rate.Limit = 30
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Events.RoutingKey == "" {
		c.Events.RoutingKey = "oidc.post_authorize"
	}
	if c.Security.SessionCookie == "" {
		c.Security.SessionCookie = "oidc_session"
	}
	if c.Security.SessionTTL == "" {
		c.Security.SessionTTL = "12h"
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Plugin == "" {
			p.Plugin = "generic"
		}
		if p.RedirectURL == "" && p.Name != "" {
			p.RedirectURL = strings.TrimRight(c.App.BaseURL, "/") + "/auth/" + p.Name + "/callback"
		}
	}
}

// applyEnvOverrides: pisa el archivo con variables de entorno. Los secretos
// de cada provider se leen de OIDC_<NAME>_CLIENT_ID / OIDC_<NAME>_CLIENT_SECRET.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		key := envKey(p.Name)
		if v, ok := getEnvStr("OIDC_" + key + "_CLIENT_ID"); ok {
			p.ClientID = v
		}
		if v, ok := getEnvStr("OIDC_" + key + "_CLIENT_SECRET"); ok {
			p.ClientSecret = v
		}
		if v, ok := getEnvStr("OIDC_" + key + "_ISSUER"); ok {
			p.Issuer = v
		}
	}
	c.App.Env = strings.ToLower(c.App.Env)
	return nil
}

// Validate reports configuration errors that must stop the process.
// Provider-level endpoint checks happen in the registry after plugin
// defaults and discovery are applied.
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct{ name, v string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"flow.state_ttl", c.Flow.StateTTL},
		{"validator.clock_skew", c.Validator.ClockSkew},
		{"validator.http_timeout", c.Validator.HTTPTimeout},
		{"validator.jwks_min_ttl", c.Validator.JWKSMinTTL},
		{"validator.jwks_max_ttl", c.Validator.JWKSMaxTTL},
		{"rate.window", c.Rate.Window},
		{"security.session_ttl", c.Security.SessionTTL},
	} {
		if _, err := time.ParseDuration(f.v); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", f.name, f.v))
		}
	}

	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required when cache.kind=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind: unsupported %q", c.Cache.Kind))
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", c.Storage.Driver))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider must be configured"))
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}

	if c.App.Env == "prod" && len(c.Security.SessionSecret) < 32 {
		errs = append(errs, errors.New("security.session_secret must be at least 32 bytes in prod"))
	}
	return errors.Join(errs...)
}

func (c *Config) StateTTL() time.Duration {
	return mustDur(c.Flow.StateTTL, 10*time.Minute)
}

func (c *Config) ClockSkew() time.Duration {
	return mustDur(c.Validator.ClockSkew, 60*time.Second)
}

func (c *Config) HTTPTimeout() time.Duration {
	return mustDur(c.Validator.HTTPTimeout, 10*time.Second)
}

func (c *Config) JWKSMinTTL() time.Duration {
	return mustDur(c.Validator.JWKSMinTTL, time.Minute)
}

func (c *Config) JWKSMaxTTL() time.Duration {
	return mustDur(c.Validator.JWKSMaxTTL, 24*time.Hour)
}

func (c *Config) RateWindow() time.Duration {
	return mustDur(c.Rate.Window, time.Minute)
}

func (c *Config) SessionTTL() time.Duration {
	return mustDur(c.Security.SessionTTL, 12*time.Hour)
}

func (c *Config) ReadTimeout() time.Duration {
	return mustDur(c.Server.ReadTimeout, 15*time.Second)
}

func (c *Config) WriteTimeout() time.Duration {
	return mustDur(c.Server.WriteTimeout, 30*time.Second)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return mustDur(c.Server.ShutdownTimeout, 10*time.Second)
}

// ---- Helpers ----

func mustDur(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// envKey: "my-idp" -> "MY_IDP"
func envKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}
