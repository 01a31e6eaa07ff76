package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/pipeline"
	"github.com/sells-group/geoenrich/internal/store"
)

var runDir string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full enrichment pipeline over the configured feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runDir != "" {
			cfg.Feed.Dir = runDir
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		res, runErr := pipeline.New(cfg, fetcher.NewFileFeed(cfg.Feed.Dir), st).Run(ctx)
		if res != nil && res.Report != nil {
			fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(res.Report))
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringVar(&runDir, "dir", "", "feed directory (default from config)")
	rootCmd.AddCommand(runCmd)
}
