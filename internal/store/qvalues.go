package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

const qValueColumns = `scope, state, state_hash, action, value, visit_count, confidence, version, updated_at`

// ScopeSummary describes the size of one Q-table.
type ScopeSummary struct {
	Scope       models.Scope `json:"scope"`
	Entries     int64        `json:"entries"`
	States      int64        `json:"states"`
	TotalVisits int64        `json:"total_visits"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// GetQValue returns one entry or ErrNotFound.
func (db *DB) GetQValue(ctx context.Context, scope models.Scope, stateHash string, action int) (models.QValueEntry, error) {
	row := db.queryRow(ctx, `SELECT `+qValueColumns+` FROM q_values WHERE scope = ? AND state_hash = ? AND action = ?`,
		scope.String(), stateHash, action)

	e, err := scanQValue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QValueEntry{}, ErrNotFound
	}
	if err != nil {
		return models.QValueEntry{}, fmt.Errorf("get q-value: %w", err)
	}
	return e, nil
}

// ListStateQValues returns every action stored for a state, by action.
func (db *DB) ListStateQValues(ctx context.Context, scope models.Scope, stateHash string) ([]models.QValueEntry, error) {
	rows, err := db.query(ctx, `SELECT `+qValueColumns+` FROM q_values WHERE scope = ? AND state_hash = ? ORDER BY action`,
		scope.String(), stateHash)
	if err != nil {
		return nil, fmt.Errorf("list state q-values: %w", err)
	}
	return scanQValues(rows)
}

// ListScopeQValues returns every entry of a scope, by state then action.
func (db *DB) ListScopeQValues(ctx context.Context, scope models.Scope) ([]models.QValueEntry, error) {
	rows, err := db.query(ctx, `SELECT `+qValueColumns+` FROM q_values WHERE scope = ? ORDER BY state, action`,
		scope.String())
	if err != nil {
		return nil, fmt.Errorf("list scope q-values: %w", err)
	}
	return scanQValues(rows)
}

// InsertQValue creates an entry at version 1.
func (db *DB) InsertQValue(ctx context.Context, e models.QValueEntry) error {
	res, err := db.exec(ctx, `INSERT INTO q_values (`+qValueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (scope, state_hash, action) DO NOTHING`,
		e.Scope.String(), string(e.State), e.StateHash, e.Action,
		e.Value, e.VisitCount, e.Confidence, toUnix(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert q-value: %w", err)
	}
	return checkAffected(res)
}

// UpdateQValue writes e if the stored version still equals expectedVersion.
// The stored version becomes expectedVersion+1 regardless of e.Version.
func (db *DB) UpdateQValue(ctx context.Context, e models.QValueEntry, expectedVersion int64) error {
	res, err := db.exec(ctx, `UPDATE q_values SET
		value = ?,
		visit_count = ?,
		confidence = ?,
		version = version + 1,
		updated_at = ?
	WHERE scope = ? AND state_hash = ? AND action = ? AND version = ?`,
		e.Value, e.VisitCount, e.Confidence, toUnix(e.UpdatedAt),
		e.Scope.String(), e.StateHash, e.Action, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update q-value: %w", err)
	}
	return checkAffected(res)
}

// ScopeSummaries aggregates entry counts per scope.
func (db *DB) ScopeSummaries(ctx context.Context) ([]ScopeSummary, error) {
	rows, err := db.query(ctx, `SELECT scope, COUNT(*), COUNT(DISTINCT state_hash), COALESCE(SUM(visit_count), 0), COALESCE(MAX(updated_at), 0)
		FROM q_values GROUP BY scope ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("summarize scopes: %w", err)
	}
	defer rows.Close()

	var out []ScopeSummary
	for rows.Next() {
		var (
			raw     string
			s       ScopeSummary
			updated int64
		)
		if err := rows.Scan(&raw, &s.Entries, &s.States, &s.TotalVisits, &updated); err != nil {
			return nil, fmt.Errorf("scan scope summary: %w", err)
		}
		scope, err := models.ParseScope(raw)
		if err != nil {
			return nil, err
		}
		s.Scope = scope
		s.UpdatedAt = fromUnix(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQValue(r rowScanner) (models.QValueEntry, error) {
	var (
		e       models.QValueEntry
		scope   string
		state   string
		updated int64
	)
	if err := r.Scan(&scope, &state, &e.StateHash, &e.Action, &e.Value, &e.VisitCount, &e.Confidence, &e.Version, &updated); err != nil {
		return models.QValueEntry{}, err
	}

	parsed, err := models.ParseScope(scope)
	if err != nil {
		return models.QValueEntry{}, err
	}
	e.Scope = parsed
	e.State = models.StateKey(state)
	e.UpdatedAt = fromUnix(updated)
	return e, nil
}

func scanQValues(rows *sql.Rows) ([]models.QValueEntry, error) {
	defer rows.Close()

	var out []models.QValueEntry
	for rows.Next() {
		e, err := scanQValue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan q-value: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}
