package main

import (
	"github.com/spf13/cobra"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
)

func newLoadCmd() *cobra.Command {
	var (
		input   string
		startAt int
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Upsert the processed CSV into the destination table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if input == "" {
				input = a.processedPath()
			}

			recs, err := csvfile.ReadFile(input)
			if err != nil {
				return err
			}
			a.logger.Info("processed file read", "path", input, "records", len(recs))

			upserter, publisher, cleanup, err := a.destination(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			p := pipeline.New(nil, upserter, publisher, a.cfg.DBTable, a.logger, a.metrics)
			defer a.serve(p)()

			_, err = p.Load(cmd.Context(), recs, startAt)
			return err
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Processed CSV path (default: PROCESSED_DIR/"+csvfile.FileName+")")
	cmd.Flags().IntVar(&startAt, "start-at", 0, "Row offset to resume from after a failed batch")
	return cmd
}
