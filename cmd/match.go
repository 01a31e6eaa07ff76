package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geoenrich/internal/fetcher"
	"github.com/sells-group/geoenrich/internal/model"
	"github.com/sells-group/geoenrich/internal/pipeline"
)

var (
	matchAddress string
	matchType    string
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Normalize one address and resolve it against the reference set",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if matchAddress == "" {
			return eris.New("--address is required")
		}
		pt, err := model.ParsePropertyType(matchType)
		if err != nil {
			return err
		}
		if err := cfg.Validate("match"); err != nil {
			return err
		}

		resolver, err := pipeline.LoadResolver(ctx, cfg, fetcher.NewFileFeed(cfg.Feed.Dir))
		if err != nil {
			return err
		}

		m := resolver.Match(resolver.JoinKey(model.RawTransaction{PropertyType: pt, Address: matchAddress}))
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "query: %s\n", m.Query)
		fmt.Fprintf(out, "match: %s (score %.3f, threshold %.2f)\n", m.Type, m.Score, resolver.Threshold())
		if !m.IsMatched() {
			return nil
		}
		fmt.Fprintf(out, "matched: %s\n", m.Matched)
		if ref, ok := resolver.Reference(m.ReferenceID); ok {
			fmt.Fprintf(out, "reference: %s %s (%.6f, %.6f)\n", ref.ID, ref.Address, ref.Location.Lat, ref.Location.Lon)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchAddress, "address", "", "address to resolve")
	matchCmd.Flags().StringVar(&matchType, "type", string(model.ResidentialPublic), "property type")
	rootCmd.AddCommand(matchCmd)
}
