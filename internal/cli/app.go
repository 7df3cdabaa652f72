package cli

import (
	"fmt"

	"github.com/mfromano/notero-sync/internal/collection"
	"github.com/mfromano/notero-sync/internal/config"
	"github.com/mfromano/notero-sync/internal/dispatcher"
	"github.com/mfromano/notero-sync/internal/notesync"
	"github.com/mfromano/notero-sync/internal/notionclient"
	"github.com/mfromano/notero-sync/internal/propertysync"
	"github.com/mfromano/notero-sync/internal/store"
	"github.com/mfromano/notero-sync/internal/taskqueue"
	"github.com/mfromano/notero-sync/internal/zoteroclient"
)

// app holds every wired component this service needs, assembled once from
// config and shared between the serve and bootstrap commands.
type app struct {
	cfg         *config.Config
	store       *store.Store
	notion      *notionclient.Client
	zotero      *zoteroclient.Client
	collections *collection.Resolver
	properties  *propertysync.Engine
	notes       *notesync.Engine
	tasks       *taskqueue.Pool
	dispatcher  *dispatcher.Dispatcher
}

// buildApp wires every component from cfg. Callers are responsible for
// calling Close when done.
func buildApp(cfg *config.Config) (*app, error) {
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	notion := notionclient.New(cfg.NotionAPIKey, notionclient.WithRateLimit(cfg.NotionRateLimit))
	zotero := zoteroclient.New(cfg.ZoteroAPIKey, zoteroclient.WithRateLimit(cfg.ZoteroRateLimit))
	collections := collection.New(st, zotero)

	properties := propertysync.New(notion, zotero, collections, st)
	notes := notesync.New(notion, zotero, st, notesync.WithDeleteOrphaned(cfg.DeleteOrphanedNotes))

	tasks := taskqueue.New(cfg.Workers, cfg.QueueDepth)
	d := dispatcher.New(cfg.NotionWebhookSecret, st, notion, properties, notes, tasks)

	return &app{
		cfg:         cfg,
		store:       st,
		notion:      notion,
		zotero:      zotero,
		collections: collections,
		properties:  properties,
		notes:       notes,
		tasks:       tasks,
		dispatcher:  d,
	}, nil
}

// Close releases the background worker pool and database connection.
func (a *app) Close() error {
	a.tasks.Stop()
	return a.store.Close()
}
