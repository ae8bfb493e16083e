package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/usgs"
)

// errNoFeatures is returned by fetch when the window holds no events.
var errNoFeatures = errors.New("no data returned for the window")

func newFetchCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the last N days of events from the USGS feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = a.cfg.FetchWindowDays
			}
			_, err = a.fetch(cmd.Context(), days)
			if errors.Is(err, errNoFeatures) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Window length in days (default FETCH_WINDOW_DAYS)")
	return cmd
}

// fetch saves the window's features under RAW_DIR and returns the file path.
// An empty window writes nothing and returns errNoFeatures.
func (a *app) fetch(ctx context.Context, days int) (string, error) {
	client := a.usgsClient()
	start, end := client.Window(days)

	features, err := client.FetchFeatures(ctx, start, end)
	if err != nil {
		return "", err
	}
	if len(features) == 0 {
		a.logger.Warn("no data returned for the window", "start", start, "end", end)
		return "", errNoFeatures
	}
	path, err := usgs.SaveFeatures(a.cfg.RawDir, start, features)
	if err != nil {
		return "", err
	}
	a.logger.Info("raw features saved", "path", path, "count", len(features))
	return path, nil
}
