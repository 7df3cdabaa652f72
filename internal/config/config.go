// Package config loads this service's configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the complete runtime configuration for notero-sync, loaded
// entirely from environment variables. There is no vault directory or
// folder-to-database mapping here to anchor a YAML file to, so unlike the
// teacher this is env-var driven end to end.
type Config struct {
	// NotionAPIKey authenticates Notion API requests.
	NotionAPIKey string
	// NotionDatabaseID is the default Notion database operated on when a
	// command (e.g. bootstrap) doesn't specify one explicitly.
	NotionDatabaseID string
	// NotionWebhookSecret verifies the X-Notion-Signature header on
	// incoming webhook deliveries. Empty disables verification.
	NotionWebhookSecret string

	// ZoteroAPIKey authenticates Zotero API requests.
	ZoteroAPIKey string
	// ZoteroGroupID is an optional default library id, used only by the
	// bootstrap command to pre-warm the collection cache for a library
	// before any page's Zotero URI has been resolved. Zero means unset.
	ZoteroGroupID int64

	// DatabaseURL is the SQLite DSN backing sync state.
	DatabaseURL string

	// Host and Port make up the address the HTTP server binds.
	Host string
	Port string

	// NotionRateLimit and ZoteroRateLimit are the requests/second ceiling
	// for each remote client.
	NotionRateLimit float64
	ZoteroRateLimit float64

	// Workers is the number of background task queue workers.
	Workers int
	// QueueDepth is the background task queue's buffer size.
	QueueDepth int

	// DeleteOrphanedNotes enables deleting a Zotero note whose source
	// Notion block has disappeared, instead of only logging it.
	DeleteOrphanedNotes bool

	// LogLevel is the raw LOG_LEVEL value, parsed by the caller via
	// zerolog.ParseLevel (kept as a string here so this package doesn't
	// need to depend on zerolog just to hold a setting).
	LogLevel string
}

// ListenAddr returns the address the HTTP server binds, combining Host and
// Port the way net/http.Server expects.
func (c *Config) ListenAddr() string {
	return c.Host + ":" + c.Port
}

// Load reads Config from the environment, applying defaults for everything
// except the credentials this service cannot run without.
func Load() (*Config, error) {
	cfg := &Config{
		NotionAPIKey:        os.Getenv("NOTION_API_KEY"),
		NotionDatabaseID:    os.Getenv("NOTION_DATABASE_ID"),
		NotionWebhookSecret: os.Getenv("NOTION_WEBHOOK_SECRET"),
		ZoteroAPIKey:        os.Getenv("ZOTERO_API_KEY"),
		ZoteroGroupID:       envInt64("ZOTERO_GROUP_ID", 0),
		DatabaseURL:         env("DATABASE_URL", "notero-sync.db"),
		Host:                env("HOST", ""),
		Port:                env("PORT", "8080"),
		NotionRateLimit:     envFloat("NOTION_RATE_LIMIT", 3),
		ZoteroRateLimit:     envFloat("ZOTERO_RATE_LIMIT", 5),
		Workers:             envInt("WORKERS", 4),
		QueueDepth:          envInt("QUEUE_DEPTH", 64),
		DeleteOrphanedNotes: envBool("DELETE_ORPHANED_NOTES", false),
		LogLevel:            env("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every credential this service cannot function
// without is present.
func (c *Config) Validate() error {
	if c.NotionAPIKey == "" {
		return fmt.Errorf("config: NOTION_API_KEY is required")
	}
	if c.ZoteroAPIKey == "" {
		return fmt.Errorf("config: ZOTERO_API_KEY is required")
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
