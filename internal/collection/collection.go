// Package collection resolves Zotero collection names to collection keys
// and back, backed by a TTL cache so the "Collections" property doesn't
// require a collections listing call on every property sync.
package collection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mfromano/notero-sync/internal/store"
)

// cacheTTL is how long a group's cached collection list is trusted before
// it's refreshed again.
const cacheTTL = 600 * time.Second

// Entry is a single collection's key/name pair, as returned by the Zotero
// collections listing.
type Entry struct {
	Key  string
	Name string
}

// Store is the persistence surface the resolver needs. *store.Store
// satisfies it.
type Store interface {
	GetCollectionKey(groupID int64, name string) (string, error)
	GetCollectionName(groupID int64, key string) (string, error)
	RefreshCollections(groupID int64, entries []store.CollectionEntry) error
}

// CollectionLister fetches the current collection list for a library.
// internal/zoteroclient.Client satisfies it.
type CollectionLister interface {
	GetCollections(ctx context.Context, libraryType string, groupID int64) ([]Entry, error)
}

// Resolver translates between Notion's human-readable collection names and
// Zotero's opaque collection keys, refreshing its cache at most once every
// 600 seconds per group.
type Resolver struct {
	store   Store
	zotero  CollectionLister
	mu      sync.Mutex
	lastRef map[int64]time.Time
}

// New creates a Resolver.
func New(store Store, zotero CollectionLister) *Resolver {
	return &Resolver{
		store:   store,
		zotero:  zotero,
		lastRef: make(map[int64]time.Time),
	}
}

// EnsureCache refreshes the cache for a group if it's stale. Concurrent
// callers racing on the same group are safe: RefreshCollections is a
// transactional replace, so whichever refresh commits last simply wins.
func (r *Resolver) EnsureCache(ctx context.Context, libraryType string, groupID int64) error {
	r.mu.Lock()
	last := r.lastRef[groupID]
	r.mu.Unlock()

	if time.Since(last) < cacheTTL {
		return nil
	}

	log.Ctx(ctx).Info().Int64("group_id", groupID).Msg("refreshing collection cache")

	entries, err := r.zotero.GetCollections(ctx, libraryType, groupID)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	storeEntries := make([]store.CollectionEntry, len(entries))
	for i, e := range entries {
		storeEntries[i] = store.CollectionEntry{Key: e.Key, Name: e.Name}
	}
	if err := r.store.RefreshCollections(groupID, storeEntries); err != nil {
		return fmt.Errorf("refresh collections: %w", err)
	}

	r.mu.Lock()
	r.lastRef[groupID] = time.Now()
	r.mu.Unlock()

	return nil
}

// NamesToKeys converts collection names to keys. Names with no matching
// cached collection are logged and skipped.
func (r *Resolver) NamesToKeys(ctx context.Context, libraryType string, groupID int64, names []string) ([]string, error) {
	if err := r.EnsureCache(ctx, libraryType, groupID); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		key, err := r.store.GetCollectionKey(groupID, name)
		if err != nil {
			return nil, fmt.Errorf("lookup collection key for %q: %w", name, err)
		}
		if key != "" {
			keys = append(keys, key)
			continue
		}
		log.Ctx(ctx).Warn().Str("name", name).Int64("group_id", groupID).
			Msg("collection name not found, skipping")
	}
	return keys, nil
}

// KeysToNames converts collection keys to names. Keys with no matching
// cached collection are logged and skipped.
func (r *Resolver) KeysToNames(ctx context.Context, libraryType string, groupID int64, keys []string) ([]string, error) {
	if err := r.EnsureCache(ctx, libraryType, groupID); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name, err := r.store.GetCollectionName(groupID, key)
		if err != nil {
			return nil, fmt.Errorf("lookup collection name for %q: %w", key, err)
		}
		if name != "" {
			names = append(names, name)
			continue
		}
		log.Ctx(ctx).Warn().Str("key", key).Int64("group_id", groupID).
			Msg("collection key not found")
	}
	return names, nil
}
