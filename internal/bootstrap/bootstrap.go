// Package bootstrap seeds sync state for a Notion database's existing
// pages, so the first webhook event for a page has a baseline to three-way
// merge against instead of treating the page as brand new. Snapshot never
// writes to Zotero; Populate also pushes one property sync per page that
// had no sync state yet.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog/log"

	"github.com/mfromano/notero-sync/internal/propertyparser"
	"github.com/mfromano/notero-sync/internal/propertysync"
	"github.com/mfromano/notero-sync/internal/store"
	"github.com/mfromano/notero-sync/internal/uri"
	"github.com/mfromano/notero-sync/internal/zoteroclient"
)

var relevantValues = map[string]struct{}{"Yes": {}, "Highly": {}}

// PageSource queries every page in a Notion database.
type PageSource interface {
	QueryAllPages(ctx context.Context, databaseID string) ([]notionapi.Page, error)
}

// ItemGetter fetches a Zotero item's current version, read-only.
type ItemGetter interface {
	GetItem(ctx context.Context, libraryType string, libraryID int64, itemKey string) (*zoteroclient.Item, error)
}

// CollectionCacher warms the collection name/key cache for a library.
type CollectionCacher interface {
	EnsureCache(ctx context.Context, libraryType string, groupID int64) error
}

// Store is the persistence surface bootstrapping needs.
type Store interface {
	GetSyncState(notionPageID string) (*store.SyncState, error)
	UpsertSyncState(st *store.SyncState) error
}

// Result summarizes a bootstrap run.
type Result struct {
	Created int
	Skipped int
}

// Snapshot queries every page in databaseID and, for each relevant page
// linked to a Zotero item with no existing sync state, records the page's
// current property values and the Zotero item's current version as the
// three-way merge baseline. It never writes to Zotero.
func Snapshot(ctx context.Context, notion PageSource, zotero ItemGetter, collections CollectionCacher, st Store, databaseID string) (Result, error) {
	log.Ctx(ctx).Info().Str("database_id", databaseID).Msg("querying all pages")
	pages, err := notion.QueryAllPages(ctx, databaseID)
	if err != nil {
		return Result{}, fmt.Errorf("query all pages: %w", err)
	}
	log.Ctx(ctx).Info().Int("count", len(pages)).Msg("found pages")

	var result Result
	type library struct {
		libraryType string
		id          int64
	}
	groupsSeen := make(map[library]struct{})

	for _, page := range pages {
		pageID := string(page.ID)
		parsed := propertyparser.ExtractSyncable(page.Properties)

		if !isRelevant(parsed) {
			result.Skipped++
			continue
		}

		zoteroURI, _ := parsed["zotero_uri"].(string)
		if zoteroURI == "" {
			result.Skipped++
			continue
		}

		ref, ok := uri.Parse(zoteroURI)
		if !ok {
			log.Ctx(ctx).Warn().Str("page_id", pageID).Str("uri", zoteroURI).Msg("cannot parse zotero uri")
			result.Skipped++
			continue
		}
		groupsSeen[library{libraryType: ref.LibraryType, id: ref.LibraryID}] = struct{}{}

		existing, err := st.GetSyncState(pageID)
		if err != nil {
			return result, fmt.Errorf("get sync state for %s: %w", pageID, err)
		}
		if existing != nil {
			result.Skipped++
			continue
		}

		item, err := zotero.GetItem(ctx, ref.LibraryType, ref.LibraryID, ref.ItemKey)
		if err != nil {
			if err == zoteroclient.ErrNotFound {
				log.Ctx(ctx).Warn().Str("page_id", pageID).Str("item_key", ref.ItemKey).Msg("zotero item not found")
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("get zotero item for %s: %w", pageID, err)
		}

		snapshot := make(map[string]any, len(propertysync.SyncableFields))
		for _, fm := range propertysync.SyncableFields {
			if v, ok := parsed[fm.NotionName]; ok {
				snapshot[fm.NotionName] = v
			}
		}

		if err := st.UpsertSyncState(&store.SyncState{
			NotionPageID:      pageID,
			ZoteroItemKey:     ref.ItemKey,
			ZoteroGroupID:     ref.LibraryID,
			LastZoteroVersion: item.Version,
			PropertySnapshot:  snapshot,
		}); err != nil {
			return result, fmt.Errorf("upsert sync state for %s: %w", pageID, err)
		}

		result.Created++
		log.Ctx(ctx).Info().Str("page_id", pageID).Str("item_key", ref.ItemKey).Msg("bootstrapped page")
	}

	for lib := range groupsSeen {
		key := fmt.Sprintf("%s/%d", lib.libraryType, lib.id)
		if err := collections.EnsureCache(ctx, lib.libraryType, lib.id); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("library", key).Msg("failed to warm collection cache")
			continue
		}
		log.Ctx(ctx).Info().Str("library", key).Msg("cached collections")
	}

	log.Ctx(ctx).Info().Int("created", result.Created).Int("skipped", result.Skipped).Msg("bootstrap complete")
	return result, nil
}

func isRelevant(parsed map[string]any) bool {
	relevant, _ := parsed["Relevant?"].(string)
	_, ok := relevantValues[relevant]
	return ok
}

// PropertySyncer pushes a single page's current properties to Zotero.
type PropertySyncer interface {
	SyncPageProperties(ctx context.Context, notionPageID string) error
}

// Populate pushes one initial property sync for every page with no sync
// state yet, so Zotero picks up whatever Notion already had before any
// baseline existed, and then runs Snapshot to seed a baseline for each page
// the push did not already record. Pages that already had sync state are
// left untouched. A page whose push recorded sync state is counted as
// skipped in the returned Result.
func Populate(ctx context.Context, notion PageSource, zotero ItemGetter, collections CollectionCacher, st Store, properties PropertySyncer, databaseID string) (Result, error) {
	log.Ctx(ctx).Info().Str("database_id", databaseID).Msg("querying all pages")
	pages, err := notion.QueryAllPages(ctx, databaseID)
	if err != nil {
		return Result{}, fmt.Errorf("query all pages: %w", err)
	}

	var newlyCreated []string
	for _, page := range pages {
		pageID := string(page.ID)
		existing, err := st.GetSyncState(pageID)
		if err != nil {
			return Result{}, fmt.Errorf("get sync state for %s: %w", pageID, err)
		}
		if existing == nil {
			newlyCreated = append(newlyCreated, pageID)
		}
	}

	// The property sync engine applies its own relevance, URI and
	// deleted-item checks, so pages Snapshot would skip are no-ops here.
	for _, pageID := range newlyCreated {
		if err := properties.SyncPageProperties(ctx, pageID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("page_id", pageID).Msg("initial property push failed")
		}
	}

	return Snapshot(ctx, notion, zotero, collections, st, databaseID)
}
