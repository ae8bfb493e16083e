package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/validate"
)

var errValidationFailed = errors.New("validation failed")

func newValidateCmd() *cobra.Command {
	var rawPath, processedPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Reconcile the processed CSV against its raw features",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if rawPath == "" {
				rawPath = a.rawPath(a.cfg.FetchWindowDays)
			}
			if processedPath == "" {
				processedPath = a.processedPath()
			}

			f, err := os.Open(rawPath)
			if err != nil {
				return fmt.Errorf("open raw features: %w", err)
			}
			defer f.Close()
			raw, err := domain.DecodeFeatures(f)
			if err != nil {
				return err
			}
			processed, err := csvfile.ReadFile(processedPath)
			if err != nil {
				return err
			}

			report := validate.Run(raw, processed)
			printReport(cmd.OutOrStdout(), report)
			if !report.Passed() {
				return errValidationFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rawPath, "raw", "", "Raw features file (default: current window under RAW_DIR)")
	cmd.Flags().StringVar(&processedPath, "processed", "", "Processed CSV path (default: PROCESSED_DIR/"+csvfile.FileName+")")
	return cmd
}

func printReport(w io.Writer, r validate.Report) {
	fmt.Fprintln(w, "=== Earthquake Data Integrity Validation ===")
	fmt.Fprintln(w)
	for _, p := range r.Phases {
		status := "\033[32mPASS\033[0m"
		if !p.Passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.Errors))
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.Name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d raw features (%d dropped), %d processed\n",
		r.RawFeatures, r.Dropped, r.ProcessedRecords)

	for _, p := range r.Phases {
		if p.Passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.Name)
		for i, e := range p.Errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if r.Passed() {
		fmt.Fprintln(w, "\nAll validations passed.")
		return
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
}
