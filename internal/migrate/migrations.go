// Package migrate brings a workspace database up to the current
// schema. Migration scripts are embedded in the binary and keyed by
// the numeric prefix of their filename; the applied version is kept
// in a single-row schema_version table.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type script struct {
	version int
	file    string
	stmts   string
}

func readScripts() ([]script, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	scripts := make([]script, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("migration %s: no numeric prefix: %w", e.Name(), err)
		}
		body, err := schemaFS.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script{version: v, file: e.Name(), stmts: string(body)})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

func appliedVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	switch err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v); err {
	case nil:
		return v, nil
	case sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
}

// Migrate applies every pending schema script in one transaction, so a
// half-migrated database is never left behind.
func Migrate(db *sql.DB) error {
	scripts, err := readScripts()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	have, err := appliedVersion(tx)
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if s.version <= have {
			continue
		}
		if _, err := tx.Exec(s.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", s.file, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, s.version); err != nil {
			return fmt.Errorf("record version %d: %w", s.version, err)
		}
		have = s.version
	}
	return tx.Commit()
}
