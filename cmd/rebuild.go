package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-derive the cleaned layer from stored raw payloads",
	Long:  "Drops all cleaned records and rebuilds them from the raw layer with the current transform rules. The feed is not contacted, so a rule change can be applied to history offline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		// The fetcher is never invoked during a rebuild.
		p, err := newPipeline(nil, st)
		if err != nil {
			return err
		}

		report, err := p.Rebuild(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}
