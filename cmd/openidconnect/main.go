package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/openidconnect/internal/config"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
)

// seteado con -ldflags "-X main.version=..."
var version = "dev"

type globalFlags struct {
	configPath string
	envFile    string
	out        string // json | text
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{
		configPath: envOr("OIDC_CONFIG", ""),
		envFile:    ".env",
		out:        "text",
	}

	root := &cobra.Command{
		Use:           "openidconnect",
		Short:         "Relying party OpenID Connect: login, callback y vinculación de identidades",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.envFile != "" {
				// .env es opcional
				_ = godotenv.Load(g.envFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", g.configPath, "Archivo de configuración YAML o TOML (env OIDC_CONFIG)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", g.envFile, "Archivo .env a cargar antes de leer la config")
	root.PersistentFlags().StringVar(&g.out, "out", g.out, "Formato de salida: json|text")

	root.AddCommand(
		newServeCmd(g),
		newProvidersCmd(g),
		newMigrateCmd(g),
		newSealCmd(g),
	)
	return root
}

// loadConfig lee y valida la config, e inicializa el logger global con ella.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Version:     version,
	})
	return cfg, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
