package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/openidconnect/internal/app"
	"github.com/dropDatabas3/openidconnect/internal/observability/logger"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP (/auth/*, /readyz, /metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := runContext(cmd)
			defer stop()

			a, err := app.New(ctx, cfg, app.Options{Version: version})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.L().Warn("cleanup error", logger.Err(err))
				}
			}()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Dirección de escucha; pisa server.addr")
	return cmd
}

// runContext existe para los comandos cortos: cancelable con Ctrl-C.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	return logger.ToContext(ctx, logger.L()), stop
}
