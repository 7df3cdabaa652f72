package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSyncStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSyncState("page-1")
	if err != nil {
		t.Fatalf("GetSyncState() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetSyncState() on empty store = %+v, want nil", got)
	}

	st := &SyncState{
		NotionPageID:      "page-1",
		ZoteroItemKey:     "ABCD1234",
		ZoteroGroupID:     483726,
		LastZoteroVersion: 7,
		PropertySnapshot:  map[string]any{"Tags": []any{"a", "b"}},
	}
	if err := s.UpsertSyncState(st); err != nil {
		t.Fatalf("UpsertSyncState() error = %v", err)
	}

	got, err = s.GetSyncState("page-1")
	if err != nil {
		t.Fatalf("GetSyncState() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetSyncState() = nil, want state")
	}
	if got.ZoteroItemKey != "ABCD1234" || got.LastZoteroVersion != 7 {
		t.Errorf("GetSyncState() = %+v", got)
	}
	if got.Deleted {
		t.Errorf("GetSyncState().Deleted = true, want false")
	}

	if err := s.MarkDeleted("page-1"); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	got, err = s.GetSyncState("page-1")
	if err != nil {
		t.Fatalf("GetSyncState() error = %v", err)
	}
	if !got.Deleted {
		t.Errorf("GetSyncState().Deleted = false, want true after MarkDeleted")
	}

	// Upserting again clears the deleted flag.
	if err := s.UpsertSyncState(st); err != nil {
		t.Fatalf("UpsertSyncState() error = %v", err)
	}
	got, _ = s.GetSyncState("page-1")
	if got.Deleted {
		t.Errorf("GetSyncState().Deleted = true after re-upsert, want false")
	}
}

func TestRecordEventDedup(t *testing.T) {
	s := newTestStore(t)

	first, err := s.RecordEvent("evt-1", "page-1")
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if !first {
		t.Fatalf("RecordEvent() first call = false, want true")
	}

	second, err := s.RecordEvent("evt-1", "page-1")
	if err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if second {
		t.Fatalf("RecordEvent() duplicate call = true, want false")
	}

	processed, err := s.IsEventProcessed("evt-1")
	if err != nil {
		t.Fatalf("IsEventProcessed() error = %v", err)
	}
	if processed {
		t.Fatalf("IsEventProcessed() = true before MarkEventProcessed")
	}

	if err := s.MarkEventProcessed("evt-1"); err != nil {
		t.Fatalf("MarkEventProcessed() error = %v", err)
	}
	processed, _ = s.IsEventProcessed("evt-1")
	if !processed {
		t.Fatalf("IsEventProcessed() = false after MarkEventProcessed")
	}
}

func TestRefreshCollections(t *testing.T) {
	s := newTestStore(t)

	err := s.RefreshCollections(483726, []CollectionEntry{
		{Key: "AAAA1111", Name: "Reading List"},
		{Key: "BBBB2222", Name: "Archive"},
	})
	if err != nil {
		t.Fatalf("RefreshCollections() error = %v", err)
	}

	key, err := s.GetCollectionKey(483726, "Reading List")
	if err != nil || key != "AAAA1111" {
		t.Errorf("GetCollectionKey() = %q, %v", key, err)
	}

	name, err := s.GetCollectionName(483726, "BBBB2222")
	if err != nil || name != "Archive" {
		t.Errorf("GetCollectionName() = %q, %v", name, err)
	}

	all, err := s.AllCollectionNames(483726)
	if err != nil || len(all) != 2 {
		t.Errorf("AllCollectionNames() = %v, %v", all, err)
	}

	// A second refresh fully replaces the prior set.
	if err := s.RefreshCollections(483726, []CollectionEntry{{Key: "CCCC3333", Name: "Only One"}}); err != nil {
		t.Fatalf("RefreshCollections() error = %v", err)
	}
	all, _ = s.AllCollectionNames(483726)
	if len(all) != 1 || all["CCCC3333"] != "Only One" {
		t.Errorf("AllCollectionNames() after replace = %v", all)
	}
}

func TestNoteSyncStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	st := &NoteSyncState{
		NotionBlockID:   "block-1",
		ZoteroNoteKey:   "NOTE1111",
		ZoteroParentKey: "ITEM2222",
		ZoteroGroupID:   483726,
		ContentHash:     "deadbeef",
	}
	if err := s.UpsertNoteSyncState(st); err != nil {
		t.Fatalf("UpsertNoteSyncState() error = %v", err)
	}

	got, err := s.GetNoteSyncState("block-1")
	if err != nil || got == nil {
		t.Fatalf("GetNoteSyncState() = %+v, %v", got, err)
	}
	if got.ZoteroNoteKey != "NOTE1111" {
		t.Errorf("GetNoteSyncState() = %+v", got)
	}

	states, err := s.NoteSyncStatesForParent("ITEM2222", 483726)
	if err != nil || len(states) != 1 {
		t.Fatalf("NoteSyncStatesForParent() = %v, %v", states, err)
	}

	if err := s.DeleteNoteSyncState("block-1"); err != nil {
		t.Fatalf("DeleteNoteSyncState() error = %v", err)
	}
	got, err = s.GetNoteSyncState("block-1")
	if err != nil || got != nil {
		t.Fatalf("GetNoteSyncState() after delete = %+v, %v", got, err)
	}
}
