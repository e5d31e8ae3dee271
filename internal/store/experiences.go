package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// Eviction selects which experiences are dropped when a log is full.
type Eviction int

const (
	// EvictOldest drops the oldest experiences first.
	EvictOldest Eviction = iota
	// EvictLowestPriority drops the lowest-priority experiences first,
	// oldest among equals.
	EvictLowestPriority
)

// AppendExperience stores exp and trims the agent's log to capacity within
// one transaction. A non-positive capacity disables trimming.
func (db *DB) AppendExperience(ctx context.Context, exp models.Experience, capacity int, evict Eviction) (int64, error) {
	var evicted int64

	err := db.transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, db.rebind(`INSERT INTO experiences
			(experience_id, agent_id, state, action, action_count, reward, next_state, done, priority, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			exp.ID, exp.AgentID, string(exp.State), exp.Action, exp.ActionCount, exp.Reward,
			string(exp.NextState), boolToInt(exp.Done), exp.Priority, toUnix(exp.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("insert experience: %w", err)
		}

		if capacity <= 0 {
			return nil
		}

		var count int64
		if err := tx.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM experiences WHERE agent_id = ?`), exp.AgentID).Scan(&count); err != nil {
			return fmt.Errorf("count experiences: %w", err)
		}
		excess := count - int64(capacity)
		if excess <= 0 {
			return nil
		}

		order := "seq ASC"
		if evict == EvictLowestPriority {
			order = "priority ASC, seq ASC"
		}
		res, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM experiences WHERE seq IN (
			SELECT seq FROM experiences WHERE agent_id = ? ORDER BY `+order+` LIMIT ?)`),
			exp.AgentID, excess,
		)
		if err != nil {
			return fmt.Errorf("trim experiences: %w", err)
		}
		evicted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

// ListExperiences returns an agent's experiences, oldest first.
func (db *DB) ListExperiences(ctx context.Context, agentID string) ([]models.Experience, error) {
	rows, err := db.query(ctx, `SELECT experience_id, agent_id, state, action, action_count, reward, next_state, done, priority, created_at
		FROM experiences WHERE agent_id = ? ORDER BY seq ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list experiences: %w", err)
	}
	defer rows.Close()

	var out []models.Experience
	for rows.Next() {
		var (
			e         models.Experience
			state     string
			nextState string
			done      int
			created   int64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &state, &e.Action, &e.ActionCount, &e.Reward, &nextState, &done, &e.Priority, &created); err != nil {
			return nil, fmt.Errorf("scan experience: %w", err)
		}
		e.State = models.StateKey(state)
		e.NextState = models.StateKey(nextState)
		e.Done = done != 0
		e.Timestamp = fromUnix(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountExperiences returns the size of an agent's log.
func (db *DB) CountExperiences(ctx context.Context, agentID string) (int64, error) {
	var n int64
	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM experiences WHERE agent_id = ?`, agentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count experiences: %w", err)
	}
	return n, nil
}
