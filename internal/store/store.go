// Package store provides the SQLite-backed durable state this service
// tracks across webhook deliveries: per-page sync baselines, the note
// mirror, the webhook event log, and the collection name/key cache.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store wraps the SQLite database connection backing the sync service.
type Store struct {
	conn *sql.DB
}

// SyncState is the baseline snapshot recorded for a Notion page synced to a
// Zotero item: the last Zotero version seen (for optimistic concurrency) and
// the property values as of the last successful sync (the three-way merge's
// common ancestor).
type SyncState struct {
	NotionPageID      string
	ZoteroItemKey     string
	ZoteroGroupID     int64
	LastZoteroVersion int64
	PropertySnapshot  map[string]any
	LastSyncedAt      time.Time
	Deleted           bool
}

// NoteSyncState tracks the mapping between a Notion block (a note section)
// and the Zotero child note it was mirrored into, plus the content hash used
// to detect whether a re-render is needed.
type NoteSyncState struct {
	NotionBlockID   string
	ZoteroNoteKey   string
	ZoteroParentKey string
	ZoteroGroupID   int64
	ContentHash     string
	LastSyncedAt    time.Time
}

// Open opens or creates the sync state database at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_state (
		notion_page_id       TEXT PRIMARY KEY,
		zotero_item_key      TEXT NOT NULL,
		zotero_group_id      INTEGER NOT NULL,
		last_zotero_version  INTEGER NOT NULL DEFAULT 0,
		property_snapshot    TEXT NOT NULL DEFAULT '{}',
		last_synced_at       INTEGER NOT NULL,
		deleted              INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS note_sync_state (
		notion_block_id   TEXT PRIMARY KEY,
		zotero_note_key   TEXT NOT NULL,
		zotero_parent_key TEXT NOT NULL,
		zotero_group_id   INTEGER NOT NULL,
		content_hash      TEXT NOT NULL,
		last_synced_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS webhook_events (
		event_id       TEXT PRIMARY KEY,
		notion_page_id TEXT NOT NULL,
		received_at    INTEGER NOT NULL,
		processed      INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS collection_map (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id        INTEGER NOT NULL,
		collection_key  TEXT NOT NULL,
		collection_name TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_note_sync_parent
		ON note_sync_state(zotero_parent_key, zotero_group_id);
	CREATE INDEX IF NOT EXISTS idx_collection_map_group
		ON collection_map(group_id);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// GetSyncState retrieves the sync state for a Notion page. It returns
// (nil, nil) if no state has been recorded yet.
func (s *Store) GetSyncState(notionPageID string) (*SyncState, error) {
	row := s.conn.QueryRow(`
		SELECT notion_page_id, zotero_item_key, zotero_group_id,
		       last_zotero_version, property_snapshot, last_synced_at, deleted
		FROM sync_state WHERE notion_page_id = ?
	`, notionPageID)

	var st SyncState
	var snapshotJSON string
	var lastSynced int64
	var deleted int

	err := row.Scan(&st.NotionPageID, &st.ZoteroItemKey, &st.ZoteroGroupID,
		&st.LastZoteroVersion, &snapshotJSON, &lastSynced, &deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan sync_state: %w", err)
	}

	if err := json.Unmarshal([]byte(snapshotJSON), &st.PropertySnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal property_snapshot: %w", err)
	}
	st.LastSyncedAt = time.Unix(lastSynced, 0).UTC()
	st.Deleted = deleted != 0

	return &st, nil
}

// UpsertSyncState creates or replaces the sync state for a Notion page.
func (s *Store) UpsertSyncState(st *SyncState) error {
	snapshot := st.PropertySnapshot
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal property_snapshot: %w", err)
	}

	lastSynced := st.LastSyncedAt
	if lastSynced.IsZero() {
		lastSynced = time.Now().UTC()
	}

	_, err = s.conn.Exec(`
		INSERT INTO sync_state (
			notion_page_id, zotero_item_key, zotero_group_id,
			last_zotero_version, property_snapshot, last_synced_at, deleted
		) VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(notion_page_id) DO UPDATE SET
			zotero_item_key     = excluded.zotero_item_key,
			zotero_group_id     = excluded.zotero_group_id,
			last_zotero_version = excluded.last_zotero_version,
			property_snapshot   = excluded.property_snapshot,
			last_synced_at      = excluded.last_synced_at,
			deleted             = 0
	`, st.NotionPageID, st.ZoteroItemKey, st.ZoteroGroupID,
		st.LastZoteroVersion, string(snapshotJSON), lastSynced.Unix())
	return err
}

// MarkDeleted flags a page's sync state as deleted without removing the row,
// so a later re-sync of the same page can tell it was previously tracked.
func (s *Store) MarkDeleted(notionPageID string) error {
	_, err := s.conn.Exec(`UPDATE sync_state SET deleted = 1 WHERE notion_page_id = ?`, notionPageID)
	return err
}

// IsEventProcessed reports whether a webhook event has already been fully
// processed.
func (s *Store) IsEventProcessed(eventID string) (bool, error) {
	var processed int
	err := s.conn.QueryRow(`SELECT processed FROM webhook_events WHERE event_id = ?`, eventID).Scan(&processed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query webhook_events: %w", err)
	}
	return processed != 0, nil
}

// RecordEvent records a webhook event, returning false if it was already
// recorded (dedup). The insert is atomic with respect to concurrent callers
// racing on the same event id, since event_id is the primary key.
func (s *Store) RecordEvent(eventID, notionPageID string) (bool, error) {
	_, err := s.conn.Exec(`
		INSERT INTO webhook_events (event_id, notion_page_id, received_at, processed)
		VALUES (?, ?, ?, 0)
	`, eventID, notionPageID, time.Now().UTC().Unix())
	if err != nil {
		if isUniqueConstraintErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert webhook_events: %w", err)
	}
	return true, nil
}

// MarkEventProcessed marks a recorded webhook event as fully handled.
func (s *Store) MarkEventProcessed(eventID string) error {
	_, err := s.conn.Exec(`UPDATE webhook_events SET processed = 1 WHERE event_id = ?`, eventID)
	return err
}

// GetCollectionKey returns the collection key cached for a group's
// collection name, or "" if not cached.
func (s *Store) GetCollectionKey(groupID int64, name string) (string, error) {
	var key string
	err := s.conn.QueryRow(`
		SELECT collection_key FROM collection_map WHERE group_id = ? AND collection_name = ?
	`, groupID, name).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return key, err
}

// GetCollectionName returns the collection name cached for a group's
// collection key, or "" if not cached.
func (s *Store) GetCollectionName(groupID int64, key string) (string, error) {
	var name string
	err := s.conn.QueryRow(`
		SELECT collection_name FROM collection_map WHERE group_id = ? AND collection_key = ?
	`, groupID, key).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return name, err
}

// CollectionEntry is a single cached (key, name) pair for a group.
type CollectionEntry struct {
	Key  string
	Name string
}

// RefreshCollections transactionally replaces every cached collection entry
// for a group. Racing refreshes for the same group are safe: whichever
// commits last wins, and the cache is always internally consistent.
func (s *Store) RefreshCollections(groupID int64, entries []CollectionEntry) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM collection_map WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear collection_map: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO collection_map (group_id, collection_key, collection_name)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(groupID, e.Key, e.Name); err != nil {
			return fmt.Errorf("insert collection_map: %w", err)
		}
	}

	return tx.Commit()
}

// AllCollectionNames returns the full key->name cache for a group.
func (s *Store) AllCollectionNames(groupID int64) (map[string]string, error) {
	rows, err := s.conn.Query(`
		SELECT collection_key, collection_name FROM collection_map WHERE group_id = ?
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query collection_map: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, fmt.Errorf("scan collection_map: %w", err)
		}
		result[key] = name
	}
	return result, rows.Err()
}

// GetNoteSyncState returns the note sync state tracked for a Notion block,
// or (nil, nil) if it isn't tracked yet.
func (s *Store) GetNoteSyncState(notionBlockID string) (*NoteSyncState, error) {
	row := s.conn.QueryRow(`
		SELECT notion_block_id, zotero_note_key, zotero_parent_key,
		       zotero_group_id, content_hash, last_synced_at
		FROM note_sync_state WHERE notion_block_id = ?
	`, notionBlockID)

	var st NoteSyncState
	var lastSynced int64
	err := row.Scan(&st.NotionBlockID, &st.ZoteroNoteKey, &st.ZoteroParentKey,
		&st.ZoteroGroupID, &st.ContentHash, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan note_sync_state: %w", err)
	}
	st.LastSyncedAt = time.Unix(lastSynced, 0).UTC()
	return &st, nil
}

// NoteSyncStatesForParent lists every note sync state mirrored under a
// Zotero parent item, used to detect notes orphaned by a deleted section.
func (s *Store) NoteSyncStatesForParent(zoteroParentKey string, zoteroGroupID int64) ([]*NoteSyncState, error) {
	rows, err := s.conn.Query(`
		SELECT notion_block_id, zotero_note_key, zotero_parent_key,
		       zotero_group_id, content_hash, last_synced_at
		FROM note_sync_state
		WHERE zotero_parent_key = ? AND zotero_group_id = ?
	`, zoteroParentKey, zoteroGroupID)
	if err != nil {
		return nil, fmt.Errorf("query note_sync_state: %w", err)
	}
	defer rows.Close()

	var states []*NoteSyncState
	for rows.Next() {
		st := &NoteSyncState{}
		var lastSynced int64
		if err := rows.Scan(&st.NotionBlockID, &st.ZoteroNoteKey, &st.ZoteroParentKey,
			&st.ZoteroGroupID, &st.ContentHash, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan note_sync_state: %w", err)
		}
		st.LastSyncedAt = time.Unix(lastSynced, 0).UTC()
		states = append(states, st)
	}
	return states, rows.Err()
}

// UpsertNoteSyncState creates or updates the note sync state for a Notion
// block.
func (s *Store) UpsertNoteSyncState(st *NoteSyncState) error {
	lastSynced := st.LastSyncedAt
	if lastSynced.IsZero() {
		lastSynced = time.Now().UTC()
	}
	_, err := s.conn.Exec(`
		INSERT INTO note_sync_state (
			notion_block_id, zotero_note_key, zotero_parent_key,
			zotero_group_id, content_hash, last_synced_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(notion_block_id) DO UPDATE SET
			zotero_note_key = excluded.zotero_note_key,
			content_hash    = excluded.content_hash,
			last_synced_at  = excluded.last_synced_at
	`, st.NotionBlockID, st.ZoteroNoteKey, st.ZoteroParentKey,
		st.ZoteroGroupID, st.ContentHash, lastSynced.Unix())
	return err
}

// DeleteNoteSyncState removes the tracked mapping for a Notion block.
func (s *Store) DeleteNoteSyncState(notionBlockID string) error {
	_, err := s.conn.Exec(`DELETE FROM note_sync_state WHERE notion_block_id = ?`, notionBlockID)
	return err
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
