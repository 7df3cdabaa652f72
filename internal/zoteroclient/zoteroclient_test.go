package zoteroclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New("test-api-key", WithRateLimit(1000), WithHTTPClient(srv.Client()))
	// Route requests to the test server instead of the real Zotero API by
	// swapping the base path via the transport's RoundTrip target.
	c.httpClient.Transport = rewriteHostTransport{target: srv.URL}
	return c
}

// rewriteHostTransport redirects every request to target, preserving path
// and query, so library URL construction can stay unaware of tests.
type rewriteHostTransport struct {
	target string
}

func (t rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	newURL := t.target + req.URL.Path
	if req.URL.RawQuery != "" {
		newURL += "?" + req.URL.RawQuery
	}
	clone := req.Clone(req.Context())
	parsed, err := http.NewRequest(req.Method, newURL, req.Body)
	if err != nil {
		return nil, err
	}
	parsed.Header = clone.Header
	return http.DefaultTransport.RoundTrip(parsed)
}

func TestGetItemNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetItem(context.Background(), "groups", 1, "ABC")
	if err != ErrNotFound {
		t.Errorf("GetItem() error = %v, want ErrNotFound", err)
	}
}

func TestGetItemSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified-Version", "42")
		json.NewEncoder(w).Encode(map[string]any{
			"key":     "ABCD1234",
			"version": 42,
			"data":    map[string]any{"title": "Example"},
		})
	})

	item, err := c.GetItem(context.Background(), "groups", 1, "ABCD1234")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if item.Key != "ABCD1234" || item.Version != 42 {
		t.Errorf("GetItem() = %+v", item)
	}
}

func TestPatchItemConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified-Version", "99")
		w.WriteHeader(http.StatusPreconditionFailed)
	})

	_, err := c.PatchItem(context.Background(), "groups", 1, "ABCD1234", map[string]any{"tags": []string{}}, 42)
	conflict, ok := err.(*ConflictError)
	if !ok {
		t.Fatalf("PatchItem() error = %v (%T), want *ConflictError", err, err)
	}
	if conflict.CurrentVersion != 99 {
		t.Errorf("ConflictError.CurrentVersion = %d, want 99", conflict.CurrentVersion)
	}
}

func TestPatchItemSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("If-Unmodified-Since-Version"); got != "42" {
			t.Errorf("If-Unmodified-Since-Version = %q, want 42", got)
		}
		w.Header().Set("Last-Modified-Version", "43")
		w.WriteHeader(http.StatusNoContent)
	})

	v, err := c.PatchItem(context.Background(), "groups", 1, "ABCD1234", map[string]any{"tags": []string{}}, 42)
	if err != nil {
		t.Fatalf("PatchItem() error = %v", err)
	}
	if v != 43 {
		t.Errorf("PatchItem() version = %d, want 43", v)
	}
}

func TestCreateNote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"successful": map[string]any{
				"0": map[string]any{
					"key":     "NOTE1111",
					"version": 1,
					"data":    map[string]any{"note": "<p>hi</p>"},
				},
			},
		})
	})

	item, err := c.CreateNote(context.Background(), "groups", 1, "PARENT01", "<p>hi</p>", []string{"notion"})
	if err != nil {
		t.Fatalf("CreateNote() error = %v", err)
	}
	if item.Key != "NOTE1111" {
		t.Errorf("CreateNote() = %+v", item)
	}
}

func TestGetCollectionsPagination(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		start := r.URL.Query().Get("start")
		if start == "0" {
			items := make([]map[string]any, 100)
			for i := range items {
				items[i] = map[string]any{"key": "KEY", "data": map[string]any{"name": "N"}}
			}
			json.NewEncoder(w).Encode(items)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"key": "LASTKEY", "data": map[string]any{"name": "Last"}},
		})
	})

	entries, err := c.GetCollections(context.Background(), "groups", 1)
	if err != nil {
		t.Fatalf("GetCollections() error = %v", err)
	}
	if len(entries) != 101 {
		t.Errorf("GetCollections() returned %d entries, want 101", len(entries))
	}
	if calls != 2 {
		t.Errorf("expected 2 pagination calls, got %d", calls)
	}
}
