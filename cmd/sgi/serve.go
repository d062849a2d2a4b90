package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sgi/pkg/channel/whatsapp"
	"sgi/pkg/logx"
	"sgi/pkg/server"
)

const janitorInterval = time.Hour

func newServeCmd() *cobra.Command {
	var seedPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook, chat API and magic-link redirects",
		Long: `Serve the HTTP surface:

  GET/POST /webhook          WhatsApp Cloud API webhook (when enabled)
  POST     /api/chat         internal chat API (bearer token)
  GET      /l/{token}        magic-link redirect to the dashboard
  GET      /api/links/{token} magic-link validation for the dashboard
  GET      /api/healthz      liveness
  GET      /metrics          Prometheus metrics

SIGINT or SIGTERM stops accepting requests and waits for in-flight turns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, &cfg, seedPath)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			deps := server.Deps{Turns: st.turns, Links: st.links, Gatherer: st.registry}
			if cfg.WhatsApp.Enabled {
				wa, err := whatsapp.NewClient(&cfg.WhatsApp, nil)
				if err != nil {
					return err
				}
				deps.Sender, deps.Media = wa, wa
			}
			srv, err := server.New(&cfg, deps)
			if err != nil {
				return err
			}

			janitor := server.NewJanitor(janitorInterval, map[string]server.PurgeFunc{
				"magic links":   st.links.Purge,
				"delivery keys": st.state.PurgeDeliveries,
			})
			go janitor.Run(ctx)

			logx.Infof("🚀 Serving with %s/%s, dashboard %s", cfg.LLM.Provider, cfg.LLM.Model, cfg.DashboardBase())
			if logx.IsDebugEnabledForDomain("config") {
				logx.NewLogger("config").Debug("effective config: %+v", cfg.Redacted())
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML fixture loaded into the data store before serving")
	return cmd
}
