package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// GetEpsilon returns an agent's persisted exploration rate or ErrNotFound.
func (db *DB) GetEpsilon(ctx context.Context, agentID string) (models.EpsilonState, error) {
	var (
		s       models.EpsilonState
		updated int64
	)
	err := db.queryRow(ctx, `SELECT agent_id, epsilon, updated_at FROM epsilon_state WHERE agent_id = ?`, agentID).
		Scan(&s.AgentID, &s.Epsilon, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EpsilonState{}, ErrNotFound
	}
	if err != nil {
		return models.EpsilonState{}, fmt.Errorf("get epsilon: %w", err)
	}
	s.UpdatedAt = fromUnix(updated)
	return s, nil
}

// PutEpsilon creates or replaces an agent's exploration rate.
func (db *DB) PutEpsilon(ctx context.Context, s models.EpsilonState) error {
	_, err := db.exec(ctx, `INSERT INTO epsilon_state (agent_id, epsilon, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET epsilon = excluded.epsilon, updated_at = excluded.updated_at`,
		s.AgentID, s.Epsilon, toUnix(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put epsilon: %w", err)
	}
	return nil
}

// ListEpsilon returns every agent's exploration rate.
func (db *DB) ListEpsilon(ctx context.Context) ([]models.EpsilonState, error) {
	rows, err := db.query(ctx, `SELECT agent_id, epsilon, updated_at FROM epsilon_state ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list epsilon: %w", err)
	}
	defer rows.Close()

	var out []models.EpsilonState
	for rows.Next() {
		var (
			s       models.EpsilonState
			updated int64
		)
		if err := rows.Scan(&s.AgentID, &s.Epsilon, &updated); err != nil {
			return nil, fmt.Errorf("scan epsilon: %w", err)
		}
		s.UpdatedAt = fromUnix(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}
