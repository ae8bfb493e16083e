package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		input   string
		fetch   bool
		startAt int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich raw features and upsert them in one pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			if fetch {
				if input, err = a.fetch(ctx, a.cfg.FetchWindowDays); err != nil {
					return err
				}
			}
			if input == "" {
				input = a.rawPath(a.cfg.FetchWindowDays)
			}

			enricher, err := a.enricher()
			if err != nil {
				return err
			}
			upserter, publisher, cleanup, err := a.destination(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			p := pipeline.New(enricher, upserter, publisher, a.cfg.DBTable, a.logger, a.metrics)
			defer a.serve(p)()

			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open raw features: %w", err)
			}
			defer f.Close()

			_, err = p.Run(ctx, f, startAt)
			return err
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Raw features file (default: current window under RAW_DIR)")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Fetch the current window from USGS first")
	cmd.Flags().IntVar(&startAt, "start-at", 0, "Row offset to resume from after a failed batch")
	return cmd
}
