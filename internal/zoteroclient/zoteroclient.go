// Package zoteroclient is a typed client for the subset of the Zotero web
// API this service needs: reading and patching items with optimistic
// concurrency, creating child notes, and listing collections.
//
// No Go SDK for the Zotero API exists to wrap, unlike internal/notionclient,
// so this talks to net/http directly behind the same shape: a rate-limited
// Client with typed results and wrapped errors.
package zoteroclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mfromano/notero-sync/internal/collection"
)

const apiBase = "https://api.zotero.org"

// DefaultRateLimit is a conservative requests/second ceiling for the Zotero
// API, mirroring the gate internal/notionclient applies to Notion calls.
const DefaultRateLimit = 5

// ErrNotFound is returned when a Zotero item does not exist.
var ErrNotFound = fmt.Errorf("zotero item not found")

// ConflictError is returned when a write loses an optimistic-concurrency
// race: the item's version on the server no longer matches the version the
// caller last read.
type ConflictError struct {
	CurrentVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict, current version: %d", e.CurrentVersion)
}

// Item is a Zotero item's key, version, and raw field data.
type Item struct {
	Key     string
	Version int64
	Data    map[string]any
}

// Client is a rate-limited Zotero API client.
type Client struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter

	cachedUserID int64
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit overrides the default requests/second limit.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
}

// WithHTTPClient overrides the underlying *http.Client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client authenticated with the given Zotero API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second/DefaultRateLimit), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// getUserID resolves the numeric user id for the current API key, caching
// the result for the life of the client.
func (c *Client) getUserID(ctx context.Context) (int64, error) {
	if c.cachedUserID != 0 {
		return c.cachedUserID, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"/keys/"+c.apiKey, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("resolve user id: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		UserID int64 `json:"userID"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode key response: %w", err)
	}

	c.cachedUserID = body.UserID
	log.Ctx(ctx).Info().Int64("user_id", body.UserID).Msg("resolved zotero user id")
	return body.UserID, nil
}

// resolveLibraryID replaces a libraryID of 0 with the authenticated user's
// real numeric id for personal ("users") libraries. Group libraries always
// carry a real numeric id already.
func (c *Client) resolveLibraryID(ctx context.Context, libraryType string, libraryID int64) (int64, error) {
	if libraryType == "users" && libraryID == 0 {
		return c.getUserID(ctx)
	}
	return libraryID, nil
}

func (c *Client) libraryURL(libraryType string, libraryID int64, path string) string {
	return fmt.Sprintf("%s/%s/%d%s", apiBase, libraryType, libraryID, path)
}

// do performs an HTTP request with the Zotero auth header set, retrying
// once after the server's requested delay on a 429.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req.Header.Set("Zotero-API-Key", c.apiKey)
	if req.Header.Get("Content-Type") == "" && req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		resp.Body.Close()
		log.Ctx(ctx).Warn().Int("retry_after_seconds", retryAfter).Msg("zotero rate limited")

		select {
		case <-time.After(time.Duration(retryAfter) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		retryReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("clone request body: %w", err)
			}
			retryReq.Body = body
		}
		return c.httpClient.Do(retryReq)
	}

	return resp, nil
}

func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		data := buf.Bytes()
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}
	return req, nil
}

// GetItem fetches a single item.
func (c *Client) GetItem(ctx context.Context, libraryType string, libraryID int64, itemKey string) (*Item, error) {
	libraryID, err := c.resolveLibraryID(ctx, libraryType, libraryID)
	if err != nil {
		return nil, fmt.Errorf("resolve library id: %w", err)
	}

	url := c.libraryURL(libraryType, libraryID, "/items/"+itemKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get item: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Key     string         `json:"key"`
		Version int64          `json:"version"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}

	version := body.Version
	if v := resp.Header.Get("Last-Modified-Version"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			version = n
		}
	}

	return &Item{Key: body.Key, Version: version, Data: body.Data}, nil
}

// PatchItem applies a partial update to an item, gated by optimistic
// concurrency on version. It returns the new version on success, or a
// *ConflictError if version no longer matches the server's current version.
func (c *Client) PatchItem(ctx context.Context, libraryType string, libraryID int64, itemKey string, data map[string]any, version int64) (int64, error) {
	libraryID, err := c.resolveLibraryID(ctx, libraryType, libraryID)
	if err != nil {
		return 0, fmt.Errorf("resolve library id: %w", err)
	}

	url := c.libraryURL(libraryType, libraryID, "/items/"+itemKey)
	req, err := newJSONRequest(ctx, http.MethodPatch, url, data)
	if err != nil {
		return 0, err
	}
	req.Header.Set("If-Unmodified-Since-Version", strconv.FormatInt(version, 10))

	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("patch item: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return 0, &ConflictError{CurrentVersion: parseVersionHeader(resp.Header.Get("Last-Modified-Version"))}
	}
	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("patch item: unexpected status %d", resp.StatusCode)
	}

	if v := resp.Header.Get("Last-Modified-Version"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	}
	return version, nil
}

// CreateNote creates a child note under parentKey.
func (c *Client) CreateNote(ctx context.Context, libraryType string, libraryID int64, parentKey, noteHTML string, tags []string) (*Item, error) {
	libraryID, err := c.resolveLibraryID(ctx, libraryType, libraryID)
	if err != nil {
		return nil, fmt.Errorf("resolve library id: %w", err)
	}

	tagObjs := make([]map[string]string, len(tags))
	for i, t := range tags {
		tagObjs[i] = map[string]string{"tag": t}
	}

	payload := []map[string]any{
		{
			"itemType":   "note",
			"parentItem": parentKey,
			"note":       noteHTML,
			"tags":       tagObjs,
		},
	}

	url := c.libraryURL(libraryType, libraryID, "/items")
	req, err := newJSONRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("create note: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Successful map[string]struct {
			Key     string         `json:"key"`
			Version int64          `json:"version"`
			Data    map[string]any `json:"data"`
		} `json:"successful"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode create note response: %w", err)
	}

	created, ok := body.Successful["0"]
	if !ok {
		return nil, fmt.Errorf("create note: no successful result in response")
	}

	return &Item{Key: created.Key, Version: created.Version, Data: created.Data}, nil
}

// GetChildNotes returns the child note items under a parent item from a
// single request; further result pages are not requested.
func (c *Client) GetChildNotes(ctx context.Context, libraryType string, libraryID int64, itemKey string) ([]Item, error) {
	libraryID, err := c.resolveLibraryID(ctx, libraryType, libraryID)
	if err != nil {
		return nil, fmt.Errorf("resolve library id: %w", err)
	}

	url := c.libraryURL(libraryType, libraryID, "/items/"+itemKey+"/children?itemType=note")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get child notes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get child notes: unexpected status %d", resp.StatusCode)
	}

	var items []struct {
		Key     string         `json:"key"`
		Version int64          `json:"version"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode child notes: %w", err)
	}

	result := make([]Item, len(items))
	for i, it := range items {
		result[i] = Item{Key: it.Key, Version: it.Version, Data: it.Data}
	}
	return result, nil
}

// GetCollections returns every collection in a library, following
// pagination. It satisfies internal/collection.CollectionLister.
func (c *Client) GetCollections(ctx context.Context, libraryType string, libraryID int64) ([]collection.Entry, error) {
	libraryID, err := c.resolveLibraryID(ctx, libraryType, libraryID)
	if err != nil {
		return nil, fmt.Errorf("resolve library id: %w", err)
	}

	const limit = 100
	var entries []collection.Entry
	start := 0

	for {
		url := fmt.Sprintf("%s?start=%d&limit=%d", c.libraryURL(libraryType, libraryID, "/collections"), start, limit)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("get collections: %w", err)
		}

		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("get collections: unexpected status %d", resp.StatusCode)
		}

		var items []struct {
			Key  string `json:"key"`
			Data struct {
				Name string `json:"name"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decode collections: %w", err)
		}
		resp.Body.Close()

		for _, it := range items {
			entries = append(entries, collection.Entry{Key: it.Key, Name: it.Data.Name})
		}

		if len(items) < limit {
			break
		}
		start += limit
	}

	return entries, nil
}

// DeleteItem deletes an item, gated by optimistic concurrency on version.
func (c *Client) DeleteItem(ctx context.Context, libraryType string, libraryID int64, itemKey string, version int64) error {
	libraryID, err := c.resolveLibraryID(ctx, libraryType, libraryID)
	if err != nil {
		return fmt.Errorf("resolve library id: %w", err)
	}

	url := c.libraryURL(libraryType, libraryID, "/items/"+itemKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("If-Unmodified-Since-Version", strconv.FormatInt(version, 10))

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return &ConflictError{CurrentVersion: parseVersionHeader(resp.Header.Get("Last-Modified-Version"))}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete item: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func parseVersionHeader(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
