package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load YAML fixtures into the data store",
		Long: `Load a YAML fixture into the data store. The file maps a collection
name to a list of records:

  projects:
    - id: p-001
      code: PRJ-001
      name: Route Bouaké-Katiola
      status: en_cours`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			st, err := openStorage(&cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := seedFrom(cmd.Context(), st.records, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Loaded %d records into %s\n", n, cfg.Database.Path)
			return nil
		},
	}
}
