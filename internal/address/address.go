// Package address resolves free-text queries into location suggestions via
// a Nominatim-style geocoding endpoint.
package address

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cyrcle-app/parking-engine/internal/core/httpclient"
	"github.com/cyrcle-app/parking-engine/internal/core/observability"
	"github.com/cyrcle-app/parking-engine/internal/geo"
)

const (
	defaultLimit = 5
	maxLimit     = 20
)

type Suggestion struct {
	DisplayName string    `json:"displayName"`
	Point       geo.Point `json:"point"`
}

type Client struct {
	base *url.URL
	http *http.Client
}

func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse address url: %w", err)
	}
	return &Client{base: u, http: httpclient.NewOutbound()}, nil
}

// Suggest returns up to limit suggestions for the query, best match first.
func (c *Client) Suggest(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/search"
	q := url.Values{}
	q.Set("format", "json")
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("address request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("address_suggest", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("address fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("address status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	// the upstream serializes coordinates as strings
	var raw []struct {
		DisplayName string `json:"display_name"`
		Lon         string `json:"lon"`
		Lat         string `json:"lat"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("address decode: %w", err)
	}

	out := make([]Suggestion, 0, len(raw))
	for _, r := range raw {
		lon, lonErr := strconv.ParseFloat(r.Lon, 64)
		lat, latErr := strconv.ParseFloat(r.Lat, 64)
		if lonErr != nil || latErr != nil {
			continue
		}
		out = append(out, Suggestion{
			DisplayName: r.DisplayName,
			Point:       geo.Point{Lon: lon, Lat: lat},
		})
	}
	return out, nil
}
