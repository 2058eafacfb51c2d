// Package hooks holds the extension points a host registers with the relying
// party: account-creation policies and post-authorize observers.
package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/openidconnect/internal/claims"
	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
	"github.com/dropDatabas3/openidconnect/internal/oidc"
)

// Level of a user-facing message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is something to show the end user. The HTTP layer decides how.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

func Info(text string) *Message  { return &Message{Level: LevelInfo, Text: text} }
func Error(text string) *Message { return &Message{Level: LevelError, Text: text} }

// AccountCreationPolicy decides whether a new local account may be created for
// an identity nobody has seen before. A denial may carry a message for the user.
type AccountCreationPolicy interface {
	AllowAccountCreation(ctx context.Context, c claims.Claims, provider string) (bool, *Message)
}

// PostAuthorizeObserver is told about every completed flow. Its error is
// logged and otherwise ignored.
type PostAuthorizeObserver interface {
	PostAuthorize(ctx context.Context, tokens *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string) error
}

// PolicyFunc adapts a function to AccountCreationPolicy.
type PolicyFunc func(ctx context.Context, c claims.Claims, provider string) (bool, *Message)

func (f PolicyFunc) AllowAccountCreation(ctx context.Context, c claims.Claims, provider string) (bool, *Message) {
	return f(ctx, c, provider)
}

// ObserverFunc adapts a function to PostAuthorizeObserver.
type ObserverFunc func(ctx context.Context, tokens *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string) error

func (f ObserverFunc) PostAuthorize(ctx context.Context, tokens *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string) error {
	return f(ctx, tokens, acc, c, provider)
}

// DefaultObserverTimeout bounds each observer call.
const DefaultObserverTimeout = 5 * time.Second

// Hooks is the registry both the linker and the flow controller call into.
// The zero value is not usable; use New.
type Hooks struct {
	mu        sync.RWMutex
	policies  []AccountCreationPolicy
	observers []PostAuthorizeObserver
	timeout   time.Duration
}

func New() *Hooks {
	return &Hooks{timeout: DefaultObserverTimeout}
}

// AddPolicy registers p. Every registered policy must allow a creation.
func (h *Hooks) AddPolicy(p AccountCreationPolicy) *Hooks {
	h.mu.Lock()
	h.policies = append(h.policies, p)
	h.mu.Unlock()
	return h
}

// AddObserver registers o; observers run in registration order.
func (h *Hooks) AddObserver(o PostAuthorizeObserver) *Hooks {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
	return h
}

// WithObserverTimeout changes the per-observer deadline.
func (h *Hooks) WithObserverTimeout(d time.Duration) *Hooks {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
	return h
}

// AllowAccountCreation asks every policy; the first denial wins. No policies
// means creation is allowed. A panicking policy counts as a denial.
func (h *Hooks) AllowAccountCreation(ctx context.Context, c claims.Claims, provider string) (allowed bool, msg *Message) {
	h.mu.RLock()
	policies := append([]AccountCreationPolicy(nil), h.policies...)
	h.mu.RUnlock()

	for _, p := range policies {
		ok, m := callPolicy(ctx, p, c, provider)
		if !ok {
			return false, m
		}
	}
	return true, nil
}

func callPolicy(ctx context.Context, p AccountCreationPolicy, c claims.Claims, provider string) (ok bool, m *Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.From(ctx).Error("account creation policy panicked",
				logger.Component("hooks"), logger.Provider(provider), logger.Any("panic", r))
			ok, m = false, nil
		}
	}()
	return p.AllowAccountCreation(ctx, c.Clone(), provider)
}

// NotifyPostAuthorize runs every observer. Errors and panics are logged; the
// caller never sees them. Observers get a context detached from the request
// so a client disconnect does not cut them short.
func (h *Hooks) NotifyPostAuthorize(ctx context.Context, tokens *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string) {
	h.mu.RLock()
	observers := append([]PostAuthorizeObserver(nil), h.observers...)
	timeout := h.timeout
	h.mu.RUnlock()

	log := logger.From(ctx).With(logger.Component("hooks"), logger.Provider(provider))
	for i, o := range observers {
		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		err := callObserver(octx, o, tokens, acc, c, provider)
		cancel()
		if err != nil {
			log.Warn("post-authorize observer failed", logger.Int("observer", i), logger.Err(err))
		}
	}
}

func callObserver(ctx context.Context, o PostAuthorizeObserver, tokens *oidc.TokenSet, acc *repository.Account, c claims.Claims, provider string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.PostAuthorize(ctx, tokens, acc, c.Clone(), provider)
}
