package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version created by a fresh database.
const CurrentSchemaVersion = 2

func initializeSchemaWithMigrations(db *sql.DB) error {
	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if current == 0 {
		return createSchema(db)
	}
	if current == CurrentSchemaVersion {
		return nil
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", current, CurrentSchemaVersion)
	}
	return runMigrations(db, current, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds the per-identity history window.
func migrateToVersion2(db *sql.DB) error {
	return execAll(db, historySchema)
}

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		identity   TEXT PRIMARY KEY,
		state      TEXT NOT NULL DEFAULT 'IDLE',
		family     TEXT NOT NULL DEFAULT '',
		data_json  TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS magic_links (
		id            TEXT PRIMARY KEY,
		digest        TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL DEFAULT '',
		payload_json  TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		expires_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_magic_links_expires ON magic_links(expires_at)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		delivery_key TEXT PRIMARY KEY,
		identity     TEXT NOT NULL DEFAULT '',
		received_at  TEXT NOT NULL,
		expires_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_expires ON deliveries(expires_at)`,
	`CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
}

var historySchema = []string{
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		identity   TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_turns_identity ON conversation_turns(identity, seq)`,
}

func createSchema(db *sql.DB) error {
	if err := execAll(db, baseSchema); err != nil {
		return err
	}
	if err := execAll(db, historySchema); err != nil {
		return err
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}

func execAll(db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the highest applied schema version, 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
