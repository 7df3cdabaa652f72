package cli

import (
	"testing"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	expected := []string{"serve", "bootstrap"}

	for _, name := range expected {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("rootCmd missing expected subcommand: %s", name)
		}
	}
}

func TestBootstrapCommand_HasSnapshotAndPopulate(t *testing.T) {
	expected := []string{"snapshot", "populate"}

	for _, name := range expected {
		found := false
		for _, cmd := range bootstrapCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("bootstrapCmd missing expected subcommand: %s", name)
		}
	}
}

func TestBootstrapCommand_HasDatabaseFlag(t *testing.T) {
	flag := bootstrapCmd.PersistentFlags().Lookup("database")
	if flag == nil {
		t.Error("bootstrapCmd missing --database flag")
	}
}

func TestSetVersion(t *testing.T) {
	origVersion, origCommit, origDate := version, commit, date
	defer func() { version, commit, date = origVersion, origCommit, origDate }()

	SetVersion("1.2.3", "abc123", "2024-01-15")

	if version != "1.2.3" {
		t.Errorf("version = %q; want %q", version, "1.2.3")
	}
	if commit != "abc123" {
		t.Errorf("commit = %q; want %q", commit, "abc123")
	}
	if date != "2024-01-15" {
		t.Errorf("date = %q; want %q", date, "2024-01-15")
	}
}

func TestRootCommand_UsageDescription(t *testing.T) {
	if rootCmd.Use != "notero-sync" {
		t.Errorf("rootCmd.Use = %q; want 'notero-sync'", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("rootCmd should have a Short description")
	}
	if rootCmd.Long == "" {
		t.Error("rootCmd should have a Long description")
	}
}
