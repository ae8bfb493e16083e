package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
)

func newEnrichCmd() *cobra.Command {
	var input, output string

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Normalize, classify and attribute raw features into the processed CSV",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if input == "" {
				input = a.rawPath(a.cfg.FetchWindowDays)
			}
			if output == "" {
				output = a.processedPath()
			}

			enricher, err := a.enricher()
			if err != nil {
				return err
			}
			p := pipeline.New(enricher, nil, nil, a.cfg.DBTable, a.logger, a.metrics)
			defer a.serve(p)()

			f, err := os.Open(input)
			if err != nil {
				return fmt.Errorf("open raw features: %w", err)
			}
			defer f.Close()

			recs, err := p.Enrich(f)
			if err != nil {
				return err
			}
			if err := csvfile.WriteFile(output, recs); err != nil {
				return err
			}
			a.logger.Info("processed file written", "path", output, "records", len(recs))
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Raw features file (default: current window under RAW_DIR)")
	cmd.Flags().StringVar(&output, "output", "", "Processed CSV path (default: PROCESSED_DIR/"+csvfile.FileName+")")
	return cmd
}
