// medialogd - Media Server Log Ingestion and Real-Time Distribution
// Copyright 2026 medialogd contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/medialogd/medialogd

// Package livesource polls media-server activity-log REST APIs and feeds
// the returned events into the pipeline as live entries, complementing
// the file-based ingestion path.
package livesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ActivityEntry is one record from a server's activity-log endpoint
// (Jellyfin/Emby shape).
type ActivityEntry struct {
	ID            int64     `json:"Id"`
	Name          string    `json:"Name"`
	Overview      string    `json:"Overview"`
	ShortOverview string    `json:"ShortOverview"`
	Type          string    `json:"Type"`
	Date          time.Time `json:"Date"`
	Severity      string    `json:"Severity"`
	UserID        string    `json:"UserId"`
}

type activityResponse struct {
	Items            []ActivityEntry `json:"Items"`
	TotalRecordCount int             `json:"TotalRecordCount"`
}

// Client fetches activity-log entries from one media server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ActivityLog returns activity entries at or after minDate, oldest first.
func (c *Client) ActivityLog(ctx context.Context, minDate time.Time) ([]ActivityEntry, error) {
	endpoint := c.baseURL + "/System/ActivityLog/Entries"
	if !minDate.IsZero() {
		endpoint += "?minDate=" + url.QueryEscape(minDate.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build activity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Emby-Token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch activity log: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("activity log returned status %d", resp.StatusCode)
	}

	var parsed activityResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode activity response: %w", err)
	}

	// The API returns newest first; the pipeline wants arrival order.
	items := parsed.Items
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
