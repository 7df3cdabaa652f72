// Package cli implements the Cobra-based command-line interface for
// notero-sync: running the webhook server, and one-shot bootstrap commands
// that seed sync state for a Notion database's existing pages.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version information for the CLI.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = v
	rootCmd.SetVersionTemplate(fmt.Sprintf("notero-sync %s (commit: %s, built: %s)\n", v, c, d))
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "notero-sync",
	Short: "One-way reverse sync from Notion to Zotero",
	Long: `notero-sync listens for Notion webhook deliveries and mirrors a
page's relevant properties and "Zotero Notes" sections onto the Zotero item
it is linked to via three-way merge and optimistic concurrency.

Use 'notero-sync bootstrap snapshot' to seed sync state for an existing
Notion database before wiring up the webhook, then 'notero-sync serve' to
run the webhook listener.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("notero-sync %s (commit: %s, built: %s)\n", version, commit, date))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bootstrapCmd)
}
