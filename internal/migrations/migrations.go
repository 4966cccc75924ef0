// Package migrations holds the relay schema and applies it in order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

//go:embed sql/*.sql
var files embed.FS

const qCreateMigrationsTable = `--sql 1e6f3a92-8b07-4d5c-a2e9-0c4b7d5f81a3
create table if not exists schema_migrations (
  version integer primary key,
  name text not null,
  applied_at timestamptz not null default now()
);
`

const qSelectAppliedMigrations = `--sql 7a40c5d1-3e98-4f26-b1d7-95e2c8a06f4b
select version from schema_migrations;
`

const qInsertMigration = `--sql c3b81e07-5f2a-4c69-8d14-e6a9f0b7d352
insert into schema_migrations(version, name) values ($1, $2);
`

// Migration is one embedded schema file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// List returns the embedded migrations ordered by version. File names must
// start with a numeric version followed by an underscore.
func List() ([]Migration, error) {
	entries, err := fs.ReadDir(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	out := make([]Migration, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, err := parseVersion(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()
		body, err := fs.ReadFile(files, path.Join("sql", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: e.Name(), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: expected <version>_<name>.sql", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %s: invalid version %q", name, prefix)
	}
	return v, nil
}

// Pending filters out migrations whose version is already applied.
func Pending(all []Migration, applied map[int]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// Apply runs every pending migration, each in its own transaction, and
// returns the number applied.
func Apply(ctx context.Context, db *sql.DB, logger zerolog.Logger) (int, error) {
	all, err := List()
	if err != nil {
		return 0, err
	}
	if _, err := db.ExecContext(ctx, qCreateMigrationsTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}
	pending := Pending(all, applied)
	for _, m := range pending {
		if err := applyOne(ctx, db, m); err != nil {
			return 0, err
		}
		logger.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
	}
	return len(pending), nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, qSelectAppliedMigrations)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyOne(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.Name, err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx, qInsertMigration, m.Version, m.Name); err != nil {
		return fmt.Errorf("record %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.Name, err)
	}
	return nil
}
