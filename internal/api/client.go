// Package api is the HTTP client for the marksync server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marksync/marksync/internal/bookmarks"
)

var (
	// ErrUnauthorized indicates a missing or rejected bearer token.
	ErrUnauthorized = errors.New("api: unauthorized")
	// ErrNotFound indicates the record does not exist or is not owned by
	// the caller.
	ErrNotFound = errors.New("api: not found")
)

// Client talks to the marksync server REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      func() string
}

// New creates a client. token is called per request so a refreshed token is
// picked up without rebuilding the client. A nil httpClient uses a default
// with a 30-second timeout.
func New(httpClient *http.Client, baseURL string, token func() string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      token,
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the current bearer token, empty when logged out.
func (c *Client) Token() string { return c.token() }

type listResponse struct {
	Bookmarks []bookmarks.Bookmark `json:"bookmarks"`
}

type bookmarkResponse struct {
	Message  string             `json:"message"`
	Bookmark bookmarks.Bookmark `json:"bookmark"`
}

// ListBookmarks fetches the complete decrypted bookmark set for the user.
func (c *Client) ListBookmarks(ctx context.Context) ([]bookmarks.Bookmark, error) {
	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/bookmarks", nil, &out); err != nil {
		return nil, err
	}
	return out.Bookmarks, nil
}

// CreateBookmark creates a bookmark server-side and returns the stored
// record with its assigned identifier.
func (c *Client) CreateBookmark(ctx context.Context, p bookmarks.Payload, position int) (*bookmarks.Bookmark, error) {
	body := bookmarks.SyncRequest{
		Title:       p.Title,
		URL:         p.URL,
		Folder:      p.Folder,
		Tags:        p.Tags,
		Description: p.Description,
		Position:    position,
	}
	var out bookmarkResponse
	if err := c.do(ctx, http.MethodPost, "/bookmarks", body, &out); err != nil {
		return nil, err
	}
	return &out.Bookmark, nil
}

// UpdateBookmark re-saves a bookmark by server identifier.
func (c *Client) UpdateBookmark(ctx context.Context, id int64, p bookmarks.Payload, position int) (*bookmarks.Bookmark, error) {
	body := bookmarks.SyncRequest{
		Title:       p.Title,
		URL:         p.URL,
		Folder:      p.Folder,
		Tags:        p.Tags,
		Description: p.Description,
		Position:    position,
	}
	var out bookmarkResponse
	if err := c.do(ctx, http.MethodPut, "/bookmarks/"+strconv.FormatInt(id, 10), body, &out); err != nil {
		return nil, err
	}
	return &out.Bookmark, nil
}

// DeleteBookmark deletes a bookmark by server identifier.
func (c *Client) DeleteBookmark(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/bookmarks/"+strconv.FormatInt(id, 10), nil, nil)
}

// SyncBookmark calls the reconciliation endpoint; the server decides
// whether to create, update, delete, or do nothing.
func (c *Client) SyncBookmark(ctx context.Context, req bookmarks.SyncRequest) (*bookmarks.SyncResult, error) {
	var out bookmarks.SyncResult
	if err := c.do(ctx, http.MethodPost, "/bookmarks/sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchByURL returns the user's bookmarks with exactly the given URL.
func (c *Client) SearchByURL(ctx context.Context, rawURL string) ([]bookmarks.Bookmark, error) {
	var out listResponse
	path := "/bookmarks/search?url=" + url.QueryEscape(rawURL)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Bookmarks, nil
}

// Health probes server availability with a bounded timeout. It never
// returns an error: an unreachable server is simply reported unavailable.
func (c *Client) Health(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: server returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
