package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// upSuffix marks a forward migration file: <YYYYMMDD>_<HHMMSS>_<name>.up.sql.
// Other files in the migrations directory are ignored.
const upSuffix = ".up.sql"

// createSchemaTable records which versions have been applied.
const createSchemaTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`

// Migration is one forward schema step.
type Migration struct {
	// Version is the YYYYMMDD_HHMMSS prefix of the file name.
	Version string

	// Name is the rest of the file name, e.g. "journal".
	Name string

	SQL string
}

// SchemaStatus summarises how far the schema has been migrated.
type SchemaStatus struct {
	// Version is the newest applied version, empty on a fresh database.
	Version string `json:"version"`

	Applied int `json:"applied"`

	// Pending lists versions not applied yet, oldest first.
	Pending []string `json:"pending,omitempty"`
}

// Migrate applies every pending migration, oldest first.
//
// Each migration runs in its own transaction: if one fails it is rolled
// back, earlier ones stay committed and later ones are not attempted, so
// running Migrate again resumes at the failed step.
func (db *DB) Migrate(ctx context.Context) error {
	_, pending, err := db.plan(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// SchemaStatus reports the applied and pending migrations.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	applied, pending, err := db.plan(ctx)
	if err != nil {
		return SchemaStatus{}, err
	}

	status := SchemaStatus{Applied: len(applied)}
	if len(applied) > 0 {
		status.Version = applied[len(applied)-1]
	}
	for _, m := range pending {
		status.Pending = append(status.Pending, m.Version)
	}
	return status, nil
}

// plan returns the applied versions and the migrations still to run, both
// in version order.
func (db *DB) plan(ctx context.Context) (applied []string, pending []Migration, err error) {
	if _, err := db.ExecContext(ctx, createSchemaTable); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err = db.appliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}

	all, err := db.loadMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// loadMigrations reads the *.up.sql files from the configured filesystem.
// A nil filesystem or a missing directory means there is nothing to run.
func (db *DB) loadMigrations() ([]Migration, error) {
	if db.migrations == nil {
		return nil, nil
	}

	files, err := fs.Glob(db.migrations, path.Join(db.migrationsDir, "*"+upSuffix))
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, file := range files {
		version, name, ok := parseMigrationFilename(path.Base(file))
		if !ok {
			continue
		}
		data, err := fs.ReadFile(db.migrations, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(data)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationFilename splits "20261018_120000_journal.up.sql" into
// version "20261018_120000" and name "journal".
func parseMigrationFilename(file string) (version, name string, ok bool) {
	base, found := strings.CutSuffix(file, upSuffix)
	if !found {
		return "", "", false
	}

	parts := strings.SplitN(base, "_", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0] + "_" + parts[1], parts[2], true
}
