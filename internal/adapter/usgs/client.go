// Package usgs fetches earthquake features from the USGS FDSN event service.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultBaseURL is the FDSN event query endpoint.
const DefaultBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1/query"

const dateLayout = "2006-01-02"

// Client queries the FDSN event service for GeoJSON features.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewClient creates a client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, timeout time.Duration, clock clockwork.Clock, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		clock:      clock,
		logger:     logger,
	}
}

// Window returns the query window ending yesterday and starting days ago,
// both as UTC dates.
func (c *Client) Window(days int) (start, end time.Time) {
	now := c.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -days), today.AddDate(0, 0, -1)
}

// FetchFeatures returns the raw "features" array for [start, end].
func (c *Client) FetchFeatures(ctx context.Context, start, end time.Time) ([]json.RawMessage, error) {
	params := url.Values{
		"format":    {"geojson"},
		"starttime": {start.Format(dateLayout)},
		"endtime":   {end.Format(dateLayout)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usgs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("usgs API error: status %d: %s", resp.StatusCode, body)
	}

	var fc response
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Info("usgs features fetched",
		"start", start.Format(dateLayout),
		"end", end.Format(dateLayout),
		"count", len(fc.Features),
	)
	return fc.Features, nil
}

// SaveFeatures writes features as an indented JSON array to
// <dir>/<start>_earthquake_data.json and returns the path.
func SaveFeatures(dir string, start time.Time, features []json.RawMessage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}
	path := filepath.Join(dir, FileName(start))

	data, err := json.MarshalIndent(features, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// FileName is the raw file name for a window starting at start.
func FileName(start time.Time) string {
	return start.Format(dateLayout) + "_earthquake_data.json"
}

type response struct {
	Features []json.RawMessage `json:"features"`
}
