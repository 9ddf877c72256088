package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSQLiteFile is the database file name inside the agent data directory.
const DefaultSQLiteFile = "beacon.db"

// Config holds database configuration.
type Config struct {
	// Driver specifies the database driver to use.
	// If empty or "auto", it is detected from the URL.
	Driver Driver

	// URL is the PostgreSQL connection string.
	URL string

	// SQLitePath is the SQLite database file. ":memory:" opens a private
	// in-memory database.
	SQLitePath string

	// DataDir is used to derive SQLitePath when it is empty.
	DataDir string

	// MaxConns is the maximum number of connections (PostgreSQL only).
	MaxConns int
}

// NewConnection opens the local database described by cfg.
func NewConnection(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.Driver
	if driver == "" || driver == "auto" {
		driver = DetectDriver(cfg.URL)
	}

	var open func(ctx context.Context, cfg Config) (Connection, error)
	switch driver {
	case DriverPostgres:
		open = newPostgresConnection
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			cfg.SQLitePath = DefaultSQLitePath(cfg.DataDir)
		}
		open = newSQLiteConnection
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if open == nil {
		return nil, fmt.Errorf("database driver %s is not linked into this binary", driver)
	}
	return open(ctx, cfg)
}

// DefaultSQLitePath returns the database file inside dataDir, falling back to
// ~/.beacon when dataDir is empty.
func DefaultSQLitePath(dataDir string) string {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		dataDir = filepath.Join(homeDir, ".beacon")
	}
	return filepath.Join(dataDir, DefaultSQLiteFile)
}

// EnsureDirectory creates the parent directory for a file path if it doesn't exist.
func EnsureDirectory(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Implementations live in the sqlite and postgres subpackages, which register
// themselves from init. Import them for side effects.
var (
	newPostgresConnection func(ctx context.Context, cfg Config) (Connection, error)
	newSQLiteConnection   func(ctx context.Context, cfg Config) (Connection, error)
)

// RegisterPostgresDriver registers the PostgreSQL connection factory.
func RegisterPostgresDriver(fn func(ctx context.Context, cfg Config) (Connection, error)) {
	newPostgresConnection = fn
}

// RegisterSQLiteDriver registers the SQLite connection factory.
func RegisterSQLiteDriver(fn func(ctx context.Context, cfg Config) (Connection, error)) {
	newSQLiteConnection = fn
}
