package main

import (
	"github.com/spf13/cobra"

	"sgi/pkg/version"
)

//nolint:gochecknoglobals // persistent flags shared by every subcommand
var (
	configPath string
	debugFlag  bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sgi",
		Short: "Conversational assistant for infrastructure projects",
		Long: `sgi answers field staff over WhatsApp and the dashboard chat.

It routes each message to a guided workflow (incident, photo, stock,
signalement, finance, project update) or to a model that queries the
project data through tools, and hands out signed links to the dashboard.

Quick Start:
  sgi seed configs/seed.yaml --config configs/sgi.yaml
  sgi console --config configs/sgi.yaml
  sgi serve --config configs/sgi.yaml`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables override it)")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(),
		newConsoleCmd(),
		newLinkCmd(),
		newSeedCmd(),
		newStatsCmd(),
	)
	return root
}
