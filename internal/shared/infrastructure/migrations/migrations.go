// Package migrations holds the local database schema. Timestamps are stored
// as Unix milliseconds so the same queries run on SQLite and PostgreSQL.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var schemaFS embed.FS

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT   PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`

// Run applies every migration for the connection's driver that has not been
// applied yet, each in its own transaction. It returns the versions applied.
func Run(ctx context.Context, conn database.Connection) ([]string, error) {
	files, err := upFiles(conn.Driver())
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, file := range files {
		version := strings.TrimSuffix(file, ".up.sql")
		if applied[version] {
			continue
		}

		migration, err := schemaFS.ReadFile(string(conn.Driver()) + "/" + file)
		if err != nil {
			return ran, fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		err = database.InTx(ctx, conn, func(ctx context.Context) error {
			exec := database.ExecutorFromContext(ctx, conn)
			if _, err := exec.Exec(ctx, string(migration)); err != nil {
				return err
			}
			_, err := exec.Exec(ctx,
				database.Rebind(conn.Driver(), `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
				version, time.Now().UnixMilli(),
			)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("failed to execute migration %s: %w", file, err)
		}
		ran = append(ran, version)
	}

	return ran, nil
}

func upFiles(driver database.Driver) ([]string, error) {
	if !driver.IsValid() {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	entries, err := fs.ReadDir(schemaFS, string(driver))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func appliedVersions(ctx context.Context, conn database.Connection) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
