package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// PutAgent registers an agent or updates its category.
func (db *DB) PutAgent(ctx context.Context, a models.Agent) error {
	_, err := db.exec(ctx, `INSERT INTO agents (agent_id, category_id, registered_at) VALUES (?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET category_id = excluded.category_id`,
		a.ID, a.Category, toUnix(a.RegisteredAt),
	)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// PutAgentIfAbsent registers an agent unless it already exists. An
// existing registration, category included, is left untouched.
func (db *DB) PutAgentIfAbsent(ctx context.Context, a models.Agent) error {
	_, err := db.exec(ctx, `INSERT INTO agents (agent_id, category_id, registered_at) VALUES (?, ?, ?)
		ON CONFLICT (agent_id) DO NOTHING`,
		a.ID, a.Category, toUnix(a.RegisteredAt),
	)
	if err != nil {
		return fmt.Errorf("put agent if absent: %w", err)
	}
	return nil
}

// GetAgent returns a registered agent or ErrNotFound.
func (db *DB) GetAgent(ctx context.Context, agentID string) (models.Agent, error) {
	var (
		a          models.Agent
		registered int64
	)
	err := db.queryRow(ctx, `SELECT agent_id, category_id, registered_at FROM agents WHERE agent_id = ?`, agentID).
		Scan(&a.ID, &a.Category, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Agent{}, ErrNotFound
	}
	if err != nil {
		return models.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	a.RegisteredAt = fromUnix(registered)
	return a, nil
}

// ListAgents returns every registered agent by ID.
func (db *DB) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := db.query(ctx, `SELECT agent_id, category_id, registered_at FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var (
			a          models.Agent
			registered int64
		)
		if err := rows.Scan(&a.ID, &a.Category, &registered); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.RegisteredAt = fromUnix(registered)
		out = append(out, a)
	}
	return out, rows.Err()
}
