// Package notesync mirrors the annotation content under a page's "Zotero
// Notes" heading into Zotero child notes: one Zotero note per top-level
// block under the heading, created, updated, or (optionally) deleted as the
// Notion content changes.
package notesync

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rs/zerolog/log"

	"github.com/mfromano/notero-sync/internal/blockrender"
	"github.com/mfromano/notero-sync/internal/store"
	"github.com/mfromano/notero-sync/internal/uri"
	"github.com/mfromano/notero-sync/internal/zoteroclient"
)

// NotesHeading is the heading text marking the start of the note sections
// mirrored to Zotero. Any later heading, of any level, ends the section.
const NotesHeading = "Zotero Notes"

// BlockFetcher fetches a block or page's children.
type BlockFetcher interface {
	GetBlockChildren(ctx context.Context, blockID string, recursive bool) ([]notionapi.Block, error)
}

// NoteStore is the note-tracking persistence surface this engine needs.
type NoteStore interface {
	NoteSyncStatesForParent(zoteroParentKey string, zoteroGroupID int64) ([]*store.NoteSyncState, error)
	UpsertNoteSyncState(st *store.NoteSyncState) error
	DeleteNoteSyncState(notionBlockID string) error
}

// NoteItems is the Zotero note surface this engine needs.
type NoteItems interface {
	GetItem(ctx context.Context, libraryType string, libraryID int64, itemKey string) (*zoteroclient.Item, error)
	PatchItem(ctx context.Context, libraryType string, libraryID int64, itemKey string, data map[string]any, version int64) (int64, error)
	CreateNote(ctx context.Context, libraryType string, libraryID int64, parentKey, noteHTML string, tags []string) (*zoteroclient.Item, error)
	DeleteItem(ctx context.Context, libraryType string, libraryID int64, itemKey string, version int64) error
}

// Engine mirrors "Zotero Notes" sections from Notion to Zotero child notes.
type Engine struct {
	notion         BlockFetcher
	zotero         NoteItems
	store          NoteStore
	deleteOrphaned bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDeleteOrphaned enables deleting the Zotero note when its source block
// disappears from Notion. Off by default: an orphaned note is only logged.
func WithDeleteOrphaned(enabled bool) Option {
	return func(e *Engine) { e.deleteOrphaned = enabled }
}

// New creates a note sync Engine.
func New(notion BlockFetcher, zotero NoteItems, st NoteStore, opts ...Option) *Engine {
	e := &Engine{notion: notion, zotero: zotero, store: st}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// section is one top-level block under the notes heading, with its content
// blocks resolved.
type section struct {
	blockID string
	blocks  []notionapi.Block
}

// SyncPageNotes syncs note content changes from a Notion page's "Zotero
// Notes" section to Zotero child notes of ref.
func (e *Engine) SyncPageNotes(ctx context.Context, notionPageID string, ref uri.ItemRef) error {
	topLevel, err := e.notion.GetBlockChildren(ctx, notionPageID, false)
	if err != nil {
		return fmt.Errorf("get page blocks: %w", err)
	}

	sections, err := e.extractSections(ctx, topLevel)
	if err != nil {
		return err
	}
	if len(sections) == 0 {
		headingFound := false
		for _, block := range topLevel {
			if text, ok := blockrender.HeadingText(block); ok && strings.TrimSpace(text) == NotesHeading {
				headingFound = true
				break
			}
		}
		if !headingFound {
			log.Ctx(ctx).Debug().Str("page_id", notionPageID).Msg("no zotero notes heading found")
			return nil
		}
	}

	existing, err := e.store.NoteSyncStatesForParent(ref.ItemKey, ref.LibraryID)
	if err != nil {
		return fmt.Errorf("load note sync states: %w", err)
	}
	tracked := make(map[string]*store.NoteSyncState, len(existing))
	for _, s := range existing {
		tracked[s.NotionBlockID] = s
	}

	for _, sec := range sections {
		if len(sec.blocks) == 0 {
			continue
		}
		contentHash := blockrender.Hash(sec.blocks)

		if state, ok := tracked[sec.blockID]; ok {
			delete(tracked, sec.blockID)
			if contentHash != state.ContentHash {
				e.updateExistingNote(ctx, state.ZoteroNoteKey, ref, sec, contentHash)
			} else {
				log.Ctx(ctx).Debug().Str("block_id", sec.blockID).Msg("note block unchanged")
			}
		} else {
			e.createNewNote(ctx, ref, sec, contentHash)
		}
	}

	// Remaining tracked states have no matching section left in Notion.
	for blockID, state := range tracked {
		if e.deleteOrphaned {
			log.Ctx(ctx).Info().Str("zotero_note_key", state.ZoteroNoteKey).Msg("deleting orphaned zotero note")
			item, err := e.zotero.GetItem(ctx, ref.LibraryType, ref.LibraryID, state.ZoteroNoteKey)
			if err == nil {
				if err := e.zotero.DeleteItem(ctx, ref.LibraryType, ref.LibraryID, state.ZoteroNoteKey, item.Version); err != nil {
					log.Ctx(ctx).Warn().Err(err).Str("zotero_note_key", state.ZoteroNoteKey).Msg("failed to delete orphaned note")
				}
			} else if err != zoteroclient.ErrNotFound {
				log.Ctx(ctx).Warn().Err(err).Str("zotero_note_key", state.ZoteroNoteKey).Msg("failed to fetch orphaned note")
			}
			if err := e.store.DeleteNoteSyncState(blockID); err != nil {
				return fmt.Errorf("delete note sync state: %w", err)
			}
		} else {
			log.Ctx(ctx).Info().Str("block_id", blockID).Str("zotero_note_key", state.ZoteroNoteKey).
				Msg("orphaned note block, skipping deletion")
		}
	}

	return nil
}

// extractSections finds the "Zotero Notes" heading and splits each direct
// child block under it into its own section. A block with children has its
// children fetched as the note content; otherwise the block itself is the
// note's only content. Any later heading, of any level, ends the section.
func (e *Engine) extractSections(ctx context.Context, blocks []notionapi.Block) ([]section, error) {
	var sections []section
	inNotesSection := false

	for _, block := range blocks {
		if text, isHeading := blockrender.HeadingText(block); isHeading {
			if strings.TrimSpace(text) == NotesHeading {
				inNotesSection = true
				continue
			}
			if inNotesSection {
				break
			}
		}

		if !inNotesSection {
			continue
		}

		blockID := extractBlockID(block)
		if blockID == "" {
			continue
		}

		if hasChildren(block) {
			children, err := e.notion.GetBlockChildren(ctx, blockID, false)
			if err != nil {
				return nil, fmt.Errorf("get note section children: %w", err)
			}
			sections = append(sections, section{blockID: blockID, blocks: children})
		} else {
			sections = append(sections, section{blockID: blockID, blocks: []notionapi.Block{block}})
		}
	}

	return sections, nil
}

func (e *Engine) updateExistingNote(ctx context.Context, zoteroNoteKey string, ref uri.ItemRef, sec section, contentHash string) {
	html := blockrender.ToHTML(sec.blocks)
	log.Ctx(ctx).Info().Str("zotero_note_key", zoteroNoteKey).Str("block_id", sec.blockID).
		Msg("updating zotero note")

	item, err := e.zotero.GetItem(ctx, ref.LibraryType, ref.LibraryID, zoteroNoteKey)
	if err != nil {
		if err == zoteroclient.ErrNotFound {
			log.Ctx(ctx).Warn().Str("zotero_note_key", zoteroNoteKey).Msg("zotero note not found, removing tracking")
			if delErr := e.store.DeleteNoteSyncState(sec.blockID); delErr != nil {
				log.Ctx(ctx).Error().Err(delErr).Msg("failed to remove note tracking")
			}
		} else {
			log.Ctx(ctx).Error().Err(err).Str("zotero_note_key", zoteroNoteKey).Msg("failed to fetch zotero note")
		}
		return
	}

	if _, err := e.zotero.PatchItem(ctx, ref.LibraryType, ref.LibraryID, zoteroNoteKey, map[string]any{"note": html}, item.Version); err != nil {
		if _, ok := err.(*zoteroclient.ConflictError); ok {
			log.Ctx(ctx).Warn().Str("zotero_note_key", zoteroNoteKey).Msg("version conflict updating note, will retry next cycle")
			return
		}
		log.Ctx(ctx).Error().Err(err).Str("zotero_note_key", zoteroNoteKey).Msg("failed to patch zotero note")
		return
	}

	if err := e.store.UpsertNoteSyncState(&store.NoteSyncState{
		NotionBlockID:   sec.blockID,
		ZoteroNoteKey:   zoteroNoteKey,
		ZoteroParentKey: ref.ItemKey,
		ZoteroGroupID:   ref.LibraryID,
		ContentHash:     contentHash,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to upsert note sync state")
	}
}

func (e *Engine) createNewNote(ctx context.Context, ref uri.ItemRef, sec section, contentHash string) {
	html := blockrender.ToHTML(sec.blocks)
	log.Ctx(ctx).Info().Str("block_id", sec.blockID).Msg("creating new zotero note")

	item, err := e.zotero.CreateNote(ctx, ref.LibraryType, ref.LibraryID, ref.ItemKey, html, nil)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("block_id", sec.blockID).Msg("failed to create zotero note")
		return
	}

	if err := e.store.UpsertNoteSyncState(&store.NoteSyncState{
		NotionBlockID:   sec.blockID,
		ZoteroNoteKey:   item.Key,
		ZoteroParentKey: ref.ItemKey,
		ZoteroGroupID:   ref.LibraryID,
		ContentHash:     contentHash,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to upsert note sync state")
	}
}

// hasChildren and extractBlockID duplicate the same narrow dispatch tables
// internal/notionclient uses internally; they're unexported there and this
// package needs them to decide whether to re-fetch a section's content.
func hasChildren(block notionapi.Block) bool {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return b.HasChildren
	case *notionapi.BulletedListItemBlock:
		return b.HasChildren
	case *notionapi.NumberedListItemBlock:
		return b.HasChildren
	case *notionapi.ToDoBlock:
		return b.HasChildren
	case *notionapi.ToggleBlock:
		return b.HasChildren
	case *notionapi.QuoteBlock:
		return b.HasChildren
	case *notionapi.CalloutBlock:
		return b.HasChildren
	default:
		return false
	}
}

func extractBlockID(block notionapi.Block) string {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return string(b.ID)
	case *notionapi.Heading1Block:
		return string(b.ID)
	case *notionapi.Heading2Block:
		return string(b.ID)
	case *notionapi.Heading3Block:
		return string(b.ID)
	case *notionapi.BulletedListItemBlock:
		return string(b.ID)
	case *notionapi.NumberedListItemBlock:
		return string(b.ID)
	case *notionapi.ToDoBlock:
		return string(b.ID)
	case *notionapi.ToggleBlock:
		return string(b.ID)
	case *notionapi.QuoteBlock:
		return string(b.ID)
	case *notionapi.CalloutBlock:
		return string(b.ID)
	default:
		return ""
	}
}
