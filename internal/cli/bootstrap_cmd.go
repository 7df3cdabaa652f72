package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mfromano/notero-sync/internal/bootstrap"
	"github.com/mfromano/notero-sync/internal/config"
)

var bootstrapDatabaseID string

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed sync state for an existing Notion database",
	Long: `bootstrap seeds sync_state entries for a Notion database's
existing pages so the first webhook event for a page has a baseline to
three-way merge against, instead of treating everything as new.`,
}

var bootstrapSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Record baselines without writing to Zotero",
	Long: `snapshot reads every page in the database and, for each relevant
page linked to a Zotero item with no existing sync state, records the
page's current properties and the Zotero item's current version as the
baseline. It never writes to Zotero.`,
	RunE: runBootstrapSnapshot,
}

var bootstrapPopulateCmd = &cobra.Command{
	Use:   "populate",
	Short: "Record baselines and push an initial property sync to Zotero",
	Long: `populate first pushes one property sync for each page that has no
sync state yet, so Zotero picks up whatever Notion already had before a
baseline existed, then runs the same baseline seeding as snapshot.`,
	RunE: runBootstrapPopulate,
}

func init() {
	bootstrapCmd.PersistentFlags().StringVar(&bootstrapDatabaseID, "database", "", "Notion database id to bootstrap (defaults to NOTION_DATABASE_ID)")

	bootstrapCmd.AddCommand(bootstrapSnapshotCmd)
	bootstrapCmd.AddCommand(bootstrapPopulateCmd)
}

// resolveDatabaseID prefers the --database flag and falls back to the
// configured NOTION_DATABASE_ID, matching spec.md §6's "bootstrap only"
// use of that variable as a default rather than a hard requirement.
func resolveDatabaseID(cfg *config.Config) (string, error) {
	if bootstrapDatabaseID != "" {
		return bootstrapDatabaseID, nil
	}
	if cfg.NotionDatabaseID != "" {
		return cfg.NotionDatabaseID, nil
	}
	return "", fmt.Errorf("bootstrap: pass --database or set NOTION_DATABASE_ID")
}

// warmConfiguredGroup pre-warms the collection cache for ZOTERO_GROUP_ID, if
// configured, so the cache is ready even for a group no scanned page
// happens to reference yet.
func warmConfiguredGroup(ctx context.Context, a *app) {
	if a.cfg.ZoteroGroupID == 0 {
		return
	}
	if err := a.collections.EnsureCache(ctx, "groups", a.cfg.ZoteroGroupID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("group_id", a.cfg.ZoteroGroupID).
			Msg("failed to warm configured zotero group's collection cache")
	}
}

func runBootstrapSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	databaseID, err := resolveDatabaseID(cfg)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	warmConfiguredGroup(ctx, a)

	result, err := bootstrap.Snapshot(ctx, a.notion, a.zotero, a.collections, a.store, databaseID)
	if err != nil {
		return err
	}

	log.Info().Int("created", result.Created).Int("skipped", result.Skipped).Msg("snapshot complete")
	return nil
}

func runBootstrapPopulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	databaseID, err := resolveDatabaseID(cfg)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	warmConfiguredGroup(ctx, a)

	result, err := bootstrap.Populate(ctx, a.notion, a.zotero, a.collections, a.store, a.properties, databaseID)
	if err != nil {
		return err
	}

	log.Info().Int("created", result.Created).Int("skipped", result.Skipped).Msg("populate complete")
	return nil
}
