package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type migration struct {
	version int
	sql     string
}

// serialPK is replaced with the dialect's auto-incrementing key column.
const serialPK = "{{serial_pk}}"

var migrations = []migration{
	{1, migrationV1QValues},
	{2, migrationV2Experiences},
	{3, migrationV3Epsilon},
	{4, migrationV4Agents},
	{5, migrationV5Stats},
}

// Migrate applies all pending schema migrations. Each migration runs in its
// own transaction together with its schema_version row.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	if err := db.queryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		err := db.transaction(ctx, func(tx *sql.Tx) error {
			for _, stmt := range db.statements(m.sql) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("apply migration v%d: %w", m.version, err)
				}
			}
			if _, err := tx.ExecContext(ctx, db.rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"), m.version, time.Now().UnixNano()); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := db.queryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

// statements renders a migration for the current dialect and splits it
// into single statements.
func (db *DB) statements(script string) []string {
	pk := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		pk = "seq BIGSERIAL PRIMARY KEY"
	}
	script = strings.ReplaceAll(script, serialPK, pk)

	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Migration SQL statements
const migrationV1QValues = `
CREATE TABLE IF NOT EXISTS q_values (
	scope       TEXT NOT NULL,
	state       TEXT NOT NULL,
	state_hash  TEXT NOT NULL,
	action      INTEGER NOT NULL,
	value       DOUBLE PRECISION NOT NULL DEFAULT 0,
	visit_count BIGINT NOT NULL DEFAULT 0,
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	version     BIGINT NOT NULL,
	updated_at  BIGINT NOT NULL,
	PRIMARY KEY (scope, state_hash, action)
);

CREATE INDEX IF NOT EXISTS idx_q_values_updated ON q_values(updated_at);
`

const migrationV2Experiences = `
CREATE TABLE IF NOT EXISTS experiences (
	{{serial_pk}},
	experience_id TEXT NOT NULL UNIQUE,
	agent_id      TEXT NOT NULL,
	state         TEXT NOT NULL,
	action        INTEGER NOT NULL,
	action_count  INTEGER NOT NULL,
	reward        DOUBLE PRECISION NOT NULL,
	next_state    TEXT NOT NULL DEFAULT '',
	done          INTEGER NOT NULL DEFAULT 0,
	priority      DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiences_agent_seq ON experiences(agent_id, seq);
CREATE INDEX IF NOT EXISTS idx_experiences_agent_priority ON experiences(agent_id, priority);
`

const migrationV3Epsilon = `
CREATE TABLE IF NOT EXISTS epsilon_state (
	agent_id   TEXT PRIMARY KEY,
	epsilon    DOUBLE PRECISION NOT NULL,
	updated_at BIGINT NOT NULL
);
`

const migrationV4Agents = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id      TEXT PRIMARY KEY,
	category_id   TEXT NOT NULL DEFAULT '',
	registered_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_category ON agents(category_id);
`

const migrationV5Stats = `
CREATE TABLE IF NOT EXISTS learning_stats (
	{{serial_pk}},
	scope            TEXT NOT NULL,
	window_start     BIGINT NOT NULL,
	window_end       BIGINT NOT NULL,
	samples          BIGINT NOT NULL DEFAULT 0,
	avg_reward       DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_value_change DOUBLE PRECISION NOT NULL DEFAULT 0,
	exploration_rate DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_learning_stats_scope ON learning_stats(scope, window_end);
`
