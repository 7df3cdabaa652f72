// Package propertysync implements the diff -> three-way merge -> patch
// pipeline that pushes a Notion page's property changes to its linked
// Zotero item.
package propertysync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog/log"

	"github.com/mfromano/notero-sync/internal/merge"
	"github.com/mfromano/notero-sync/internal/propertyparser"
	"github.com/mfromano/notero-sync/internal/store"
	"github.com/mfromano/notero-sync/internal/uri"
	"github.com/mfromano/notero-sync/internal/zoteroclient"
)

// maxRetries is how many merge-and-patch attempts are made in total before a
// version conflict is given up on, leaving the page for the next webhook
// delivery to retry.
const maxRetries = 3

// retryBackoff is the linear backoff unit: attempt N waits N*retryBackoff.
const retryBackoff = time.Second

// relevantValues is the set of "Relevant?" property values that mark a page
// as in scope for syncing.
var relevantValues = map[string]struct{}{"Yes": {}, "Highly": {}}

// noteroTag is the tag Notero itself adds to every synced Zotero item; it
// must always survive a tag merge regardless of what either side did.
const noteroTag = "notion"

// MergeStrategy controls how a field's value is reconciled between Notion
// and Zotero.
type MergeStrategy int

const (
	// ThreeWay merges array fields (tags, collections) using the base
	// snapshot as the common ancestor.
	ThreeWay MergeStrategy = iota
	// Scalar resolves a text field: Notion wins unless Zotero also changed
	// since the last sync, in which case Zotero wins and the conflict is
	// logged.
	Scalar
)

// FieldMapping maps one Notion property to one Zotero item field.
type FieldMapping struct {
	NotionName   string
	ZoteroField  string
	MergeStrategy MergeStrategy
}

// SyncableFields is the closed set of fields this service syncs from Notion
// to Zotero.
var SyncableFields = []FieldMapping{
	{NotionName: "Tags", ZoteroField: "tags", MergeStrategy: ThreeWay},
	{NotionName: "Collections", ZoteroField: "collections", MergeStrategy: ThreeWay},
	{NotionName: "Abstract", ZoteroField: "abstractNote", MergeStrategy: Scalar},
	{NotionName: "Short Title", ZoteroField: "shortTitle", MergeStrategy: Scalar},
	{NotionName: "Extra", ZoteroField: "extra", MergeStrategy: Scalar},
}

// PageProperties fetches a Notion page's properties.
type PageProperties interface {
	GetPageProperties(ctx context.Context, pageID string) (notionapi.Properties, error)
}

// ItemStore fetches and patches Zotero items.
type ItemStore interface {
	GetItem(ctx context.Context, libraryType string, libraryID int64, itemKey string) (*zoteroclient.Item, error)
	PatchItem(ctx context.Context, libraryType string, libraryID int64, itemKey string, data map[string]any, version int64) (int64, error)
}

// CollectionResolver translates collection names to keys.
type CollectionResolver interface {
	NamesToKeys(ctx context.Context, libraryType string, groupID int64, names []string) ([]string, error)
}

// Store is the sync-state persistence surface this engine needs.
type Store interface {
	GetSyncState(notionPageID string) (*store.SyncState, error)
	UpsertSyncState(st *store.SyncState) error
	MarkDeleted(notionPageID string) error
}

// Engine runs the property sync pipeline for a page.
type Engine struct {
	notion      PageProperties
	zotero      ItemStore
	collections CollectionResolver
	store       Store
}

// New creates a property sync Engine.
func New(notion PageProperties, zotero ItemStore, collections CollectionResolver, st Store) *Engine {
	return &Engine{notion: notion, zotero: zotero, collections: collections, store: st}
}

// SyncPageProperties syncs property changes from a Notion page to its
// linked Zotero item. It is a no-op if the page is not marked Relevant, has
// no parseable Zotero URI, or was previously marked deleted after a 404.
func (e *Engine) SyncPageProperties(ctx context.Context, notionPageID string) error {
	properties, err := e.notion.GetPageProperties(ctx, notionPageID)
	if err != nil {
		return fmt.Errorf("get page properties: %w", err)
	}
	parsed := propertyparser.ExtractSyncable(properties)

	relevant, _ := parsed["Relevant?"].(string)
	if _, ok := relevantValues[relevant]; !ok {
		log.Ctx(ctx).Debug().Str("page_id", notionPageID).Str("relevant", relevant).
			Msg("page not relevant, skipping property sync")
		return nil
	}

	zoteroURI, _ := parsed["zotero_uri"].(string)
	if zoteroURI == "" {
		log.Ctx(ctx).Warn().Str("page_id", notionPageID).Msg("page has no zotero uri, skipping")
		return nil
	}

	ref, ok := uri.Parse(zoteroURI)
	if !ok {
		log.Ctx(ctx).Warn().Str("page_id", notionPageID).Str("uri", zoteroURI).
			Msg("cannot parse zotero uri, skipping")
		return nil
	}

	syncState, err := e.store.GetSyncState(notionPageID)
	if err != nil {
		return fmt.Errorf("get sync state: %w", err)
	}
	if syncState != nil && syncState.Deleted {
		log.Ctx(ctx).Info().Str("page_id", notionPageID).Msg("page marked deleted, skipping")
		return nil
	}

	baseSnapshot := map[string]any{}
	if syncState != nil {
		baseSnapshot = syncState.PropertySnapshot
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := e.doMergeAndPatch(ctx, notionPageID, ref, parsed, baseSnapshot)
		if err == nil {
			return nil
		}

		var conflict *zoteroclient.ConflictError
		if errors.As(err, &conflict) {
			if attempt < maxRetries-1 {
				wait := retryBackoff * time.Duration(attempt+1)
				log.Ctx(ctx).Warn().Str("item_key", ref.ItemKey).Dur("wait", wait).
					Int("attempt", attempt+1).Int("max_retries", maxRetries).
					Msg("version conflict, retrying")
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			log.Ctx(ctx).Error().Str("item_key", ref.ItemKey).Int("max_retries", maxRetries).
				Msg("version conflict after retries, giving up")
			return nil
		}

		if errors.Is(err, zoteroclient.ErrNotFound) {
			log.Ctx(ctx).Warn().Str("item_key", ref.ItemKey).Msg("zotero item not found, marking deleted")
			return e.store.MarkDeleted(notionPageID)
		}

		return err
	}

	return nil
}

func (e *Engine) doMergeAndPatch(ctx context.Context, notionPageID string, ref uri.ItemRef, notionProps, baseSnapshot map[string]any) error {
	item, err := e.zotero.GetItem(ctx, ref.LibraryType, ref.LibraryID, ref.ItemKey)
	if err != nil {
		return err
	}

	patchData := map[string]any{}

	for _, fm := range SyncableFields {
		notionValue, present := notionProps[fm.NotionName]
		if !present {
			continue
		}

		switch fm.MergeStrategy {
		case ThreeWay:
			merged, changed, err := e.mergeArrayField(ctx, fm, notionValue, item.Data, baseSnapshot, ref)
			if err != nil {
				return err
			}
			if changed {
				if fm.ZoteroField == "tags" {
					patchData["tags"] = tagsToZotero(merged)
				} else {
					patchData["collections"] = merged
				}
			}

		case Scalar:
			newValue, changed := mergeScalarField(ctx, notionPageID, fm, notionValue, item.Data, baseSnapshot)
			if changed {
				patchData[fm.ZoteroField] = newValue
			}
		}
	}

	versionToStore := item.Version
	if len(patchData) == 0 {
		log.Ctx(ctx).Debug().Str("page_id", notionPageID).Msg("no changes to sync")
	} else {
		log.Ctx(ctx).Info().Str("item_key", ref.ItemKey).Interface("fields", keysOf(patchData)).
			Msg("patching zotero item")
		versionToStore, err = e.zotero.PatchItem(ctx, ref.LibraryType, ref.LibraryID, ref.ItemKey, patchData, item.Version)
		if err != nil {
			return err
		}
	}

	newSnapshot := buildSnapshot(notionProps)
	return e.store.UpsertSyncState(&store.SyncState{
		NotionPageID:      notionPageID,
		ZoteroItemKey:     ref.ItemKey,
		ZoteroGroupID:     ref.LibraryID,
		LastZoteroVersion: versionToStore,
		PropertySnapshot:  newSnapshot,
	})
}

func (e *Engine) mergeArrayField(ctx context.Context, fm FieldMapping, notionValue any, zoteroData, baseSnapshot map[string]any, ref uri.ItemRef) (result []string, changed bool, err error) {
	notionCurrent := toStringSlice(notionValue)
	base := toStringSlice(baseSnapshot[fm.NotionName])

	switch fm.ZoteroField {
	case "tags":
		zoteroCurrent := zoteroTagsToList(zoteroData["tags"])
		preserve := map[string]struct{}{noteroTag: {}}
		merged := merge.ThreeWay(base, notionCurrent, zoteroCurrent, preserve)
		if !sameSet(merged, zoteroCurrent) {
			return merged, true, nil
		}
		return nil, false, nil

	case "collections":
		zoteroCurrentKeys := toStringSlice(zoteroData["collections"])
		notionKeys, err := e.collections.NamesToKeys(ctx, ref.LibraryType, ref.LibraryID, notionCurrent)
		if err != nil {
			return nil, false, fmt.Errorf("resolve notion collection names: %w", err)
		}
		baseKeys, err := e.collections.NamesToKeys(ctx, ref.LibraryType, ref.LibraryID, base)
		if err != nil {
			return nil, false, fmt.Errorf("resolve base collection names: %w", err)
		}
		merged := merge.ThreeWay(baseKeys, notionKeys, zoteroCurrentKeys, nil)
		if !sameSet(merged, zoteroCurrentKeys) {
			return merged, true, nil
		}
		return nil, false, nil
	}

	return nil, false, nil
}

// mergeScalarField resolves a text field: Notion wins unless Zotero also
// changed since the last sync, in which case the conflict is logged and
// Zotero wins (nothing is written back).
func mergeScalarField(ctx context.Context, notionPageID string, fm FieldMapping, notionValue any, zoteroData, baseSnapshot map[string]any) (string, bool) {
	notionCurrent := toString(notionValue)
	base := toString(baseSnapshot[fm.NotionName])
	zoteroCurrent := toString(zoteroData[fm.ZoteroField])

	notionChanged := notionCurrent != base
	zoteroChanged := zoteroCurrent != base

	if !notionChanged {
		return "", false
	}
	if !zoteroChanged {
		return notionCurrent, true
	}

	log.Ctx(ctx).Warn().Str("page_id", notionPageID).Str("field", fm.NotionName).
		Msg("conflict on field: both notion and zotero changed, zotero wins")
	return "", false
}

func buildSnapshot(notionProps map[string]any) map[string]any {
	snapshot := make(map[string]any)
	for _, fm := range SyncableFields {
		if v, ok := notionProps[fm.NotionName]; ok {
			snapshot[fm.NotionName] = v
		}
	}
	return snapshot
}

func tagsToZotero(tags []string) []map[string]string {
	out := make([]map[string]string, len(tags))
	for i, t := range tags {
		out[i] = map[string]string{"tag": t}
	}
	return out
}

func zoteroTagsToList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if tag, ok := m["tag"].(string); ok {
			out = append(out, tag)
		}
	}
	return out
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
