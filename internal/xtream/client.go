// Package xtream is the vendor-API collaborator: a client for Xtream
// Codes-compatible IPTV providers (player_api.php) and the mapping from its
// rows into the playlist snapshot.
//
// SECURITY: credentials appear in request URLs but must never be logged —
// use SafeHost for any log output that mentions the provider.
package xtream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Per-call timeouts. Stream listings on big providers run to tens of MB.
const (
	authTimeout     = 15 * time.Second
	categoryTimeout = 30 * time.Second
	listingTimeout  = 120 * time.Second
)

// Client talks to one Xtream provider with fixed credentials.
type Client struct {
	server   string // normalized, no trailing slash
	username string
	password string
	http     *http.Client
}

// New validates the server URL shape and returns a Client.
// The caller is responsible for passing the server through the URL guard
// first — New only normalizes.
func New(server, username, password string) (*Client, error) {
	server = strings.TrimRight(server, "/")
	if server == "" || username == "" || password == "" {
		return nil, fmt.Errorf("xtream: server, username and password are required")
	}
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		return nil, fmt.Errorf("xtream: server must start with http:// or https://")
	}
	return &Client{
		server:   server,
		username: username,
		password: password,
		http:     &http.Client{},
	}, nil
}

// Server returns the normalized provider base URL.
func (c *Client) Server() string { return c.server }

// Username returns the account username.
func (c *Client) Username() string { return c.username }

// Password returns the account password.
func (c *Client) Password() string { return c.password }

// Category is one live/VOD/series category row.
type Category struct {
	CategoryID   json.Number `json:"category_id"`
	CategoryName string      `json:"category_name"`
}

// LiveStream is one live channel row.
type LiveStream struct {
	Name         string      `json:"name"`
	StreamID     json.Number `json:"stream_id"`
	StreamIcon   string      `json:"stream_icon"`
	EpgChannelID string      `json:"epg_channel_id"`
	Added        json.Number `json:"added"`
	CategoryID   json.Number `json:"category_id"`
}

// VodStream is one movie row.
type VodStream struct {
	Name               string      `json:"name"`
	StreamID           json.Number `json:"stream_id"`
	StreamIcon         string      `json:"stream_icon"`
	Rating             json.Number `json:"rating"`
	Year               json.Number `json:"year"`
	Added              json.Number `json:"added"`
	CategoryID         json.Number `json:"category_id"`
	ContainerExtension string      `json:"container_extension"`
}

// SeriesRow is one series listing row.
type SeriesRow struct {
	Name         string      `json:"name"`
	SeriesID     json.Number `json:"series_id"`
	Cover        string      `json:"cover"`
	Rating       json.Number `json:"rating"`
	Year         json.Number `json:"year"`
	LastModified json.Number `json:"last_modified"`
	CategoryID   json.Number `json:"category_id"`
}

// authResponse is the minimal shape needed to detect rejected credentials.
type authResponse struct {
	UserInfo struct {
		Auth json.RawMessage `json:"auth"`
	} `json:"user_info"`
}

// Authenticate verifies the credentials against the provider.
func (c *Client) Authenticate(ctx context.Context) error {
	var resp authResponse
	if err := c.apiCall(ctx, "", authTimeout, &resp); err != nil {
		return err
	}
	// Providers report auth as 0/1 or false/true.
	auth := string(bytes.TrimSpace(resp.UserInfo.Auth))
	if auth == "0" || auth == "false" {
		return fmt.Errorf("xtream: authentication rejected by %s", SafeHost(c.server))
	}
	return nil
}

// LiveCategories fetches live categories. Best-effort callers treat an
// error as an empty list.
func (c *Client) LiveCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := c.apiCall(ctx, "get_live_categories", categoryTimeout, &out)
	return out, err
}

// LiveStreams fetches all live channels.
func (c *Client) LiveStreams(ctx context.Context) ([]LiveStream, error) {
	var out []LiveStream
	err := c.apiCall(ctx, "get_live_streams", listingTimeout, &out)
	return out, err
}

// VodCategories fetches movie categories.
func (c *Client) VodCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := c.apiCall(ctx, "get_vod_categories", categoryTimeout, &out)
	return out, err
}

// VodStreams fetches all movies.
func (c *Client) VodStreams(ctx context.Context) ([]VodStream, error) {
	var out []VodStream
	err := c.apiCall(ctx, "get_vod_streams", listingTimeout, &out)
	return out, err
}

// SeriesCategories fetches series categories.
func (c *Client) SeriesCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := c.apiCall(ctx, "get_series_categories", categoryTimeout, &out)
	return out, err
}

// Series fetches all series listings.
func (c *Client) Series(ctx context.Context) ([]SeriesRow, error) {
	var out []SeriesRow
	err := c.apiCall(ctx, "get_series", listingTimeout, &out)
	return out, err
}

// apiCall makes a player_api.php call and decodes JSON into dest.
// extra holds additional query parameters as key/value pairs.
func (c *Client) apiCall(ctx context.Context, action string, timeout time.Duration, dest interface{}, extra ...[2]string) error {
	apiURL := fmt.Sprintf("%s/player_api.php?username=%s&password=%s",
		c.server, url.QueryEscape(c.username), url.QueryEscape(c.password))
	if action != "" {
		apiURL += "&action=" + url.QueryEscape(action)
	}
	for _, kv := range extra {
		apiURL += "&" + kv[0] + "=" + url.QueryEscape(kv[1])
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("xtream request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("xtream call (action=%q host=%s): %w", action, SafeHost(c.server), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("xtream: HTTP %d for action=%q host=%s",
			resp.StatusCode, action, SafeHost(c.server))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("xtream decode (action=%q): %w", action, err)
	}
	return nil
}

// SafeHost returns only the host portion of a provider URL for log output.
func SafeHost(server string) string {
	u, err := url.Parse(server)
	if err != nil {
		return "[unparseable]"
	}
	return u.Host
}
