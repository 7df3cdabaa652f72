// Package dispatcher verifies, dedups, and routes incoming Notion webhook
// events onto the background task queue.
package dispatcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog/log"

	"github.com/mfromano/notero-sync/internal/propertyparser"
	"github.com/mfromano/notero-sync/internal/taskqueue"
	"github.com/mfromano/notero-sync/internal/uri"
)

// SignatureHeader is the header Notion sends the HMAC-SHA256 signature of
// the request body in, signed with the webhook's shared secret.
const SignatureHeader = "X-Notion-Signature"

const (
	eventPropertiesUpdated = "page.properties_updated"
	eventContentUpdated    = "page.content_updated"
)

// WebhookEvent is a single event from a Notion webhook delivery.
type WebhookEvent struct {
	Type string         `json:"type"`
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// WebhookPayload is the top-level body of a Notion webhook delivery: either
// a one-time verification challenge, or a batch of events.
type WebhookPayload struct {
	VerificationToken string         `json:"verification_token"`
	Events            []WebhookEvent `json:"events"`
}

// EventStore is the event-dedup persistence surface this dispatcher needs.
type EventStore interface {
	RecordEvent(eventID, notionPageID string) (bool, error)
	MarkEventProcessed(eventID string) error
}

// PagePropertiesReader fetches a Notion page's properties, used to resolve
// the linked Zotero item for a content-update event.
type PagePropertiesReader interface {
	GetPageProperties(ctx context.Context, pageID string) (notionapi.Properties, error)
}

// PropertySyncer syncs a page's properties to its linked Zotero item.
type PropertySyncer interface {
	SyncPageProperties(ctx context.Context, notionPageID string) error
}

// NoteSyncer syncs a page's note sections to its linked Zotero item.
type NoteSyncer interface {
	SyncPageNotes(ctx context.Context, notionPageID string, ref uri.ItemRef) error
}

// Dispatcher verifies webhook signatures, dedups delivered events, and
// enqueues the matching sync engine call onto the task queue.
type Dispatcher struct {
	secret     string
	store      EventStore
	notion     PagePropertiesReader
	properties PropertySyncer
	notes      NoteSyncer
	tasks      *taskqueue.Pool
}

// New creates a Dispatcher. secret may be empty, in which case signature
// verification is skipped (matching the teacher's opt-in behavior when no
// webhook secret is configured).
func New(secret string, store EventStore, notion PagePropertiesReader, properties PropertySyncer, notes NoteSyncer, tasks *taskqueue.Pool) *Dispatcher {
	return &Dispatcher{secret: secret, store: store, notion: notion, properties: properties, notes: notes, tasks: tasks}
}

// HandleWebhook is the http.HandlerFunc for the Notion webhook endpoint. It
// verifies the signature, answers verification challenges directly, and
// enqueues background work for each new event before responding.
func (d *Dispatcher) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if sig := r.Header.Get(SignatureHeader); d.secret != "" && sig != "" {
		if !verifySignature(body, sig, d.secret) {
			log.Ctx(ctx).Warn().Msg("invalid webhook signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if payload.VerificationToken != "" {
		log.Ctx(ctx).Info().Msg("received webhook verification challenge")
		writeJSON(w, map[string]string{"challenge": payload.VerificationToken})
		return
	}

	for _, event := range payload.Events {
		d.dispatchEvent(ctx, event)
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, event WebhookEvent) {
	pageID, _ := event.Data["page_id"].(string)
	if pageID == "" {
		log.Ctx(ctx).Warn().Str("event_id", event.ID).Msg("event has no page_id, skipping")
		return
	}

	isNew, err := d.store.RecordEvent(event.ID, pageID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event_id", event.ID).Msg("failed to record event")
		return
	}
	if !isNew {
		log.Ctx(ctx).Debug().Str("event_id", event.ID).Msg("duplicate event, skipping")
		return
	}

	switch event.Type {
	case eventPropertiesUpdated:
		d.tasks.Submit(ctx, func(taskCtx context.Context) { d.processPropertyUpdate(taskCtx, event.ID, pageID) })
	case eventContentUpdated:
		d.tasks.Submit(ctx, func(taskCtx context.Context) { d.processContentUpdate(taskCtx, event.ID, pageID) })
	default:
		log.Ctx(ctx).Debug().Str("event_type", event.Type).Msg("ignoring event type")
	}
}

func (d *Dispatcher) processPropertyUpdate(ctx context.Context, eventID, pageID string) {
	log.Ctx(ctx).Info().Str("page_id", pageID).Msg("processing property update")
	if err := d.properties.SyncPageProperties(ctx, pageID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("page_id", pageID).Msg("error processing property update")
		return
	}
	if err := d.store.MarkEventProcessed(eventID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event_id", eventID).Msg("failed to mark event processed")
	}
}

// processContentUpdate resolves the page's Zotero URI itself rather than
// relying on the relevance-gated property sync path: a note sync should
// still run on a page whose "Relevant?" value doesn't pass the gate
// property sync applies.
func (d *Dispatcher) processContentUpdate(ctx context.Context, eventID, pageID string) {
	log.Ctx(ctx).Info().Str("page_id", pageID).Msg("processing content update")

	properties, err := d.notion.GetPageProperties(ctx, pageID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("page_id", pageID).Msg("error fetching page properties")
		return
	}
	parsed := propertyparser.ExtractSyncable(properties)

	zoteroURI, _ := parsed["zotero_uri"].(string)
	if zoteroURI == "" {
		log.Ctx(ctx).Warn().Str("page_id", pageID).Msg("page has no zotero uri, skipping note sync")
		return
	}

	ref, ok := uri.Parse(zoteroURI)
	if !ok {
		log.Ctx(ctx).Warn().Str("page_id", pageID).Msg("cannot parse zotero uri on page")
		return
	}

	if err := d.notes.SyncPageNotes(ctx, pageID, ref); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("page_id", pageID).Msg("error processing content update")
		return
	}
	if err := d.store.MarkEventProcessed(eventID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event_id", eventID).Msg("failed to mark event processed")
	}
}

func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
