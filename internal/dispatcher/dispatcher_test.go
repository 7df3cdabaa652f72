package dispatcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jomei/notionapi"

	"github.com/mfromano/notero-sync/internal/taskqueue"
	"github.com/mfromano/notero-sync/internal/uri"
)

type fakeStore struct {
	mu        sync.Mutex
	recorded  map[string]bool
	processed map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{recorded: map[string]bool{}, processed: map[string]bool{}}
}

func (f *fakeStore) RecordEvent(eventID, notionPageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded[eventID] {
		return false, nil
	}
	f.recorded[eventID] = true
	return true, nil
}

func (f *fakeStore) MarkEventProcessed(eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

type fakeNotion struct{}

func (fakeNotion) GetPageProperties(ctx context.Context, pageID string) (notionapi.Properties, error) {
	return notionapi.Properties{
		"Zotero URI": notionapi.URLProperty{URL: "http://zotero.org/groups/1/items/ABCD1234"},
	}, nil
}

type fakeProperties struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeProperties) SyncPageProperties(ctx context.Context, notionPageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notionPageID)
	return nil
}

type fakeNotes struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotes) SyncPageNotes(ctx context.Context, notionPageID string, ref uri.ItemRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notionPageID)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandleWebhookVerificationChallenge(t *testing.T) {
	tasks := taskqueue.New(1, 4)
	defer tasks.Stop()
	d := New("", newFakeStore(), fakeNotion{}, &fakeProperties{}, &fakeNotes{}, tasks)

	body := `{"verification_token": "tok123"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/notion", strings.NewReader(body))
	w := httptest.NewRecorder()

	d.HandleWebhook(w, req)

	var resp map[string]string
	json.NewDecoder(w.Result().Body).Decode(&resp)
	if resp["challenge"] != "tok123" {
		t.Errorf("challenge = %q, want tok123", resp["challenge"])
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	tasks := taskqueue.New(1, 4)
	defer tasks.Stop()
	d := New("supersecret", newFakeStore(), fakeNotion{}, &fakeProperties{}, &fakeNotes{}, tasks)

	body := `{"events": []}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/notion", strings.NewReader(body))
	req.Header.Set(SignatureHeader, "wrong")
	w := httptest.NewRecorder()

	d.HandleWebhook(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Result().StatusCode)
	}
}

func TestHandleWebhookAcceptsValidSignature(t *testing.T) {
	secret := "supersecret"
	body := `{"events": []}`
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	sig := hex.EncodeToString(mac.Sum(nil))

	tasks := taskqueue.New(1, 4)
	defer tasks.Stop()
	d := New(secret, newFakeStore(), fakeNotion{}, &fakeProperties{}, &fakeNotes{}, tasks)

	req := httptest.NewRequest(http.MethodPost, "/webhook/notion", strings.NewReader(body))
	req.Header.Set(SignatureHeader, sig)
	w := httptest.NewRecorder()

	d.HandleWebhook(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
}

func TestHandleWebhookDispatchesPropertyUpdate(t *testing.T) {
	tasks := taskqueue.New(1, 4)
	defer tasks.Stop()
	props := &fakeProperties{}
	st := newFakeStore()
	d := New("", st, fakeNotion{}, props, &fakeNotes{}, tasks)

	body := `{"events": [{"type": "page.properties_updated", "id": "evt1", "data": {"page_id": "page1"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/notion", strings.NewReader(body))
	w := httptest.NewRecorder()

	d.HandleWebhook(w, req)

	waitFor(t, func() bool {
		props.mu.Lock()
		defer props.mu.Unlock()
		return len(props.calls) == 1
	})
	waitFor(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.processed["evt1"]
	})
}

func TestHandleWebhookDedupsDuplicateEvents(t *testing.T) {
	tasks := taskqueue.New(1, 4)
	defer tasks.Stop()
	props := &fakeProperties{}
	st := newFakeStore()
	d := New("", st, fakeNotion{}, props, &fakeNotes{}, tasks)

	body := `{"events": [{"type": "page.properties_updated", "id": "evt1", "data": {"page_id": "page1"}}]}`

	req1 := httptest.NewRequest(http.MethodPost, "/webhook/notion", strings.NewReader(body))
	d.HandleWebhook(httptest.NewRecorder(), req1)
	waitFor(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.processed["evt1"]
	})

	req2 := httptest.NewRequest(http.MethodPost, "/webhook/notion", strings.NewReader(body))
	d.HandleWebhook(httptest.NewRecorder(), req2)

	time.Sleep(50 * time.Millisecond)
	props.mu.Lock()
	defer props.mu.Unlock()
	if len(props.calls) != 1 {
		t.Errorf("expected exactly 1 property sync call (dedup), got %d", len(props.calls))
	}
}

func TestHandleWebhookDispatchesContentUpdate(t *testing.T) {
	tasks := taskqueue.New(1, 4)
	defer tasks.Stop()
	notes := &fakeNotes{}
	st := newFakeStore()
	d := New("", st, fakeNotion{}, &fakeProperties{}, notes, tasks)

	body := `{"events": [{"type": "page.content_updated", "id": "evt2", "data": {"page_id": "page1"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/notion", strings.NewReader(body))
	w := httptest.NewRecorder()

	d.HandleWebhook(w, req)

	waitFor(t, func() bool {
		notes.mu.Lock()
		defer notes.mu.Unlock()
		return len(notes.calls) == 1
	})
}
