package notesync

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"

	"github.com/mfromano/notero-sync/internal/blockrender"
	"github.com/mfromano/notero-sync/internal/store"
	"github.com/mfromano/notero-sync/internal/uri"
	"github.com/mfromano/notero-sync/internal/zoteroclient"
)

func rt(text string) notionapi.RichText {
	return notionapi.RichText{PlainText: text}
}

type fakeBlocks struct {
	children map[string][]notionapi.Block
}

func (f *fakeBlocks) GetBlockChildren(ctx context.Context, blockID string, recursive bool) ([]notionapi.Block, error) {
	return f.children[blockID], nil
}

type fakeNoteItems struct {
	created   map[string]string // blockID content -> key, not used directly
	patched   map[string]map[string]any
	createdAt []string
	nextKey   int
	items     map[string]*zoteroclient.Item
}

func newFakeNoteItems() *fakeNoteItems {
	return &fakeNoteItems{
		patched: map[string]map[string]any{},
		items:   map[string]*zoteroclient.Item{},
	}
}

func (f *fakeNoteItems) GetItem(ctx context.Context, libraryType string, libraryID int64, itemKey string) (*zoteroclient.Item, error) {
	if item, ok := f.items[itemKey]; ok {
		return item, nil
	}
	return nil, zoteroclient.ErrNotFound
}

func (f *fakeNoteItems) PatchItem(ctx context.Context, libraryType string, libraryID int64, itemKey string, data map[string]any, version int64) (int64, error) {
	f.patched[itemKey] = data
	return version + 1, nil
}

func (f *fakeNoteItems) CreateNote(ctx context.Context, libraryType string, libraryID int64, parentKey, noteHTML string, tags []string) (*zoteroclient.Item, error) {
	f.nextKey++
	key := "NOTE" + string(rune('0'+f.nextKey))
	item := &zoteroclient.Item{Key: key, Version: 1, Data: map[string]any{"note": noteHTML}}
	f.items[key] = item
	f.createdAt = append(f.createdAt, key)
	return item, nil
}

func (f *fakeNoteItems) DeleteItem(ctx context.Context, libraryType string, libraryID int64, itemKey string, version int64) error {
	delete(f.items, itemKey)
	return nil
}

type fakeNoteStore struct {
	states  map[string]*store.NoteSyncState
	deleted []string
}

func newFakeNoteStore() *fakeNoteStore {
	return &fakeNoteStore{states: map[string]*store.NoteSyncState{}}
}

func (f *fakeNoteStore) NoteSyncStatesForParent(zoteroParentKey string, zoteroGroupID int64) ([]*store.NoteSyncState, error) {
	var out []*store.NoteSyncState
	for _, s := range f.states {
		if s.ZoteroParentKey == zoteroParentKey && s.ZoteroGroupID == zoteroGroupID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeNoteStore) UpsertNoteSyncState(st *store.NoteSyncState) error {
	f.states[st.NotionBlockID] = st
	return nil
}

func (f *fakeNoteStore) DeleteNoteSyncState(notionBlockID string) error {
	delete(f.states, notionBlockID)
	f.deleted = append(f.deleted, notionBlockID)
	return nil
}

func headingBlock(text string) notionapi.Block {
	return &notionapi.Heading2Block{Heading2: notionapi.Heading{RichText: []notionapi.RichText{rt(text)}}}
}

func paragraphBlock(id, text string) notionapi.Block {
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{ID: notionapi.BlockID(id)},
		Paragraph:  notionapi.Paragraph{RichText: []notionapi.RichText{rt(text)}},
	}
}

func TestSyncPageNotesCreatesNewNote(t *testing.T) {
	topLevel := []notionapi.Block{
		paragraphBlock("intro", "intro text"),
		headingBlock(NotesHeading),
		paragraphBlock("n1", "first note"),
	}
	fetcher := &fakeBlocks{children: map[string][]notionapi.Block{
		"page1": topLevel,
	}}
	zotero := newFakeNoteItems()
	st := newFakeNoteStore()
	ref := uri.ItemRef{LibraryType: "groups", LibraryID: 1, ItemKey: "ITEM1"}

	e := New(fetcher, zotero, st)
	if err := e.SyncPageNotes(context.Background(), "page1", ref); err != nil {
		t.Fatalf("SyncPageNotes() error = %v", err)
	}

	if len(zotero.createdAt) != 1 {
		t.Fatalf("expected 1 note created, got %d", len(zotero.createdAt))
	}
	if len(st.states) != 1 {
		t.Errorf("expected 1 tracked note state, got %d", len(st.states))
	}
}

func TestSyncPageNotesSkipsUnchanged(t *testing.T) {
	topLevel := []notionapi.Block{
		headingBlock(NotesHeading),
		paragraphBlock("n1", "same content"),
	}
	fetcher := &fakeBlocks{children: map[string][]notionapi.Block{"page1": topLevel}}
	zotero := newFakeNoteItems()
	st := newFakeNoteStore()
	ref := uri.ItemRef{LibraryType: "groups", LibraryID: 1, ItemKey: "ITEM1"}

	// Pre-seed tracked state with the hash this content will produce.
	e := New(fetcher, zotero, st)
	contentHash := blockrender.Hash([]notionapi.Block{paragraphBlock("n1", "same content")})
	st.states["n1"] = &store.NoteSyncState{
		NotionBlockID: "n1", ZoteroNoteKey: "EXISTING", ZoteroParentKey: "ITEM1", ZoteroGroupID: 1,
		ContentHash: contentHash,
	}

	if err := e.SyncPageNotes(context.Background(), "page1", ref); err != nil {
		t.Fatalf("SyncPageNotes() error = %v", err)
	}
	if len(zotero.createdAt) != 0 {
		t.Errorf("expected no note created for unchanged content, got %d", len(zotero.createdAt))
	}
	if len(zotero.patched) != 0 {
		t.Errorf("expected no patch for unchanged content, got %+v", zotero.patched)
	}
}

func TestSyncPageNotesOrphanSkippedByDefault(t *testing.T) {
	topLevel := []notionapi.Block{
		headingBlock(NotesHeading),
	}
	fetcher := &fakeBlocks{children: map[string][]notionapi.Block{"page1": topLevel}}
	zotero := newFakeNoteItems()
	zotero.items["OLDNOTE"] = &zoteroclient.Item{Key: "OLDNOTE", Version: 1}
	st := newFakeNoteStore()
	st.states["gone"] = &store.NoteSyncState{
		NotionBlockID: "gone", ZoteroNoteKey: "OLDNOTE", ZoteroParentKey: "ITEM1", ZoteroGroupID: 1,
	}
	ref := uri.ItemRef{LibraryType: "groups", LibraryID: 1, ItemKey: "ITEM1"}

	e := New(fetcher, zotero, st)
	if err := e.SyncPageNotes(context.Background(), "page1", ref); err != nil {
		t.Fatalf("SyncPageNotes() error = %v", err)
	}
	if len(st.deleted) != 0 {
		t.Errorf("expected orphan not deleted by default, got deleted=%v", st.deleted)
	}
	if _, ok := zotero.items["OLDNOTE"]; !ok {
		t.Errorf("expected zotero note to survive when delete-orphaned is off")
	}
}

func TestSyncPageNotesOrphanDeletedWhenEnabled(t *testing.T) {
	topLevel := []notionapi.Block{
		headingBlock(NotesHeading),
	}
	fetcher := &fakeBlocks{children: map[string][]notionapi.Block{"page1": topLevel}}
	zotero := newFakeNoteItems()
	zotero.items["OLDNOTE"] = &zoteroclient.Item{Key: "OLDNOTE", Version: 1}
	st := newFakeNoteStore()
	st.states["gone"] = &store.NoteSyncState{
		NotionBlockID: "gone", ZoteroNoteKey: "OLDNOTE", ZoteroParentKey: "ITEM1", ZoteroGroupID: 1,
	}
	ref := uri.ItemRef{LibraryType: "groups", LibraryID: 1, ItemKey: "ITEM1"}

	e := New(fetcher, zotero, st, WithDeleteOrphaned(true))
	if err := e.SyncPageNotes(context.Background(), "page1", ref); err != nil {
		t.Fatalf("SyncPageNotes() error = %v", err)
	}
	if len(st.deleted) != 1 {
		t.Errorf("expected orphan tracking deleted, got %v", st.deleted)
	}
	if _, ok := zotero.items["OLDNOTE"]; ok {
		t.Errorf("expected zotero note deleted")
	}
}

func TestExtractSectionsNoHeadingReturnsEmpty(t *testing.T) {
	topLevel := []notionapi.Block{paragraphBlock("p1", "no heading here")}
	fetcher := &fakeBlocks{children: map[string][]notionapi.Block{}}
	e := New(fetcher, newFakeNoteItems(), newFakeNoteStore())

	sections, err := e.extractSections(context.Background(), topLevel)
	if err != nil {
		t.Fatalf("extractSections() error = %v", err)
	}
	if len(sections) != 0 {
		t.Errorf("expected no sections, got %d", len(sections))
	}
}
