// Package store abre el repository.Store configurado (memory, postgres o sqlite).
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dropDatabas3/openidconnect/internal/domain/repository"
	"github.com/dropDatabas3/openidconnect/internal/store/adapters/memory"
	"github.com/dropDatabas3/openidconnect/internal/store/adapters/pg"
	"github.com/dropDatabas3/openidconnect/internal/store/adapters/sqlite"
)

type Config struct {
	Driver   string
	DSN      string
	MaxConns int32
}

// Opener conecta un driver concreto.
type Opener func(ctx context.Context, cfg Config) (repository.Store, error)

var (
	registryMu sync.RWMutex
	openers    = map[string]Opener{}
)

func init() {
	Register("memory", func(context.Context, Config) (repository.Store, error) {
		return memory.New(), nil
	})
	Register("postgres", func(ctx context.Context, cfg Config) (repository.Store, error) {
		return pg.Open(ctx, cfg.DSN, cfg.MaxConns)
	})
	Register("sqlite", func(ctx context.Context, cfg Config) (repository.Store, error) {
		return sqlite.Open(ctx, cfg.DSN)
	})
}

// Register agrega un driver. Panic si el nombre ya existe.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name = strings.ToLower(name)
	if _, exists := openers[name]; exists {
		panic(fmt.Sprintf("store: driver %q already registered", name))
	}
	openers[name] = open
}

// Drivers retorna los nombres registrados, ordenados.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "", "mem":
		return "memory"
	case "pg", "postgresql":
		return "postgres"
	case "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

// Open abre el store del driver pedido. postgres y sqlite aplican migraciones.
func Open(ctx context.Context, cfg Config) (repository.Store, error) {
	name := normalize(cfg.Driver)

	registryMu.RLock()
	open, ok := openers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown driver %q (available: %s)", cfg.Driver, strings.Join(Drivers(), ", "))
	}

	s, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", name, err)
	}
	return s, nil
}
