package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dropDatabas3/openidconnect/internal/validation"
)

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("provider_name", func(fl validator.FieldLevel) bool {
		return validation.ValidProviderName(fl.Field().String())
	})
	_ = v.RegisterValidation("scope_name", func(fl validator.FieldLevel) bool {
		return validation.ValidScopeName(fl.Field().String())
	})
	return v
}()

// Validate checks that the endpoints and client credentials are present.
func Validate(c Config) error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+"("+fe.Tag()+")")
			}
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.Name, fields)
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.Name, err)
	}
	return nil
}

// Registry maps provider names to their configuration. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Config
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Config)}
}

// Register adds cfg. Names are unique.
func (r *Registry) Register(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[cfg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, cfg.Name)
	}
	r.providers[cfg.Name] = cfg.clone()
	return nil
}

// Get returns a copy of the named provider.
func (r *Registry) Get(name string) (Config, error) {
	r.mu.RLock()
	cfg, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cfg.clone(), nil
}

// List returns every provider sorted by name.
func (r *Registry) List() []Config {
	r.mu.RLock()
	out := make([]Config, 0, len(r.providers))
	for _, c := range r.providers {
		out = append(out, c.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Replace swaps the whole provider set. Either every config is valid and the
// new set becomes visible at once, or nothing changes.
func (r *Registry) Replace(cfgs []Config) error {
	next := make(map[string]Config, len(cfgs))
	for _, c := range cfgs {
		if err := Validate(c); err != nil {
			return err
		}
		if _, dup := next[c.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, c.Name)
		}
		next[c.Name] = c.clone()
	}
	r.mu.Lock()
	r.providers = next
	r.mu.Unlock()
	return nil
}
