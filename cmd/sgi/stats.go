package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sgi/pkg/metrics"
)

func newStatsCmd() *cobra.Command {
	var (
		prometheusURL string
		window        time.Duration
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Usage report read back from Prometheus",
		Long: `Report turns by answer path, tool calls with their error ratio, model
tokens and magic-link activity over a window. The numbers come from the
Prometheus server that scrapes the /metrics endpoint of "sgi serve".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			qs, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err
			}
			usage, err := qs.Usage(cmd.Context(), window)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(usage)
			}
			printUsage(cmd.OutOrStdout(), usage)
			return nil
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus-url", "http://localhost:9090", "Prometheus server address")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "report window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printUsage(w io.Writer, u *metrics.Usage) {
	fmt.Fprintf(w, "📊 Usage over the last %s\n", u.Window)

	section := func(title string, m map[string]int64) {
		fmt.Fprintf(w, "\n%s\n", title)
		if len(m) == 0 {
			fmt.Fprintln(w, "  (none)")
			return
		}
		for _, k := range metrics.SortedKeys(m) {
			fmt.Fprintf(w, "  %-32s %d\n", k, m[k])
		}
	}
	section("Turns by path", u.TurnsByPath)
	section("Tool calls (tool/status)", u.ToolCalls)
	section("Model tokens", u.LLMTokens)
	section("Magic links (event/result)", u.MagicLinks)

	if len(u.Errors) > 0 {
		fmt.Fprintf(w, "\nTool error ratio\n")
		for _, tool := range metrics.SortedKeys(u.Errors) {
			fmt.Fprintf(w, "  %-32s %.1f%%\n", tool, 100*u.Errors[tool])
		}
	}
}
