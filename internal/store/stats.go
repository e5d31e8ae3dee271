package store

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// InsertStats records one learning statistics window.
func (db *DB) InsertStats(ctx context.Context, s models.LearningStats) error {
	_, err := db.exec(ctx, `INSERT INTO learning_stats
		(scope, window_start, window_end, samples, avg_reward, avg_value_change, exploration_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Scope.String(), toUnix(s.WindowStart), toUnix(s.WindowEnd), s.Samples,
		s.AvgReward, s.AvgValueChange, s.ExplorationRate,
	)
	if err != nil {
		return fmt.Errorf("insert learning stats: %w", err)
	}
	return nil
}

// ListStats returns the newest windows of a scope first.
func (db *DB) ListStats(ctx context.Context, scope models.Scope, limit int) ([]models.LearningStats, error) {
	q := `SELECT window_start, window_end, samples, avg_reward, avg_value_change, exploration_rate
		FROM learning_stats WHERE scope = ? ORDER BY window_end DESC, seq DESC`
	args := []any{scope.String()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list learning stats: %w", err)
	}
	defer rows.Close()

	var out []models.LearningStats
	for rows.Next() {
		var (
			s          models.LearningStats
			start, end int64
		)
		if err := rows.Scan(&start, &end, &s.Samples, &s.AvgReward, &s.AvgValueChange, &s.ExplorationRate); err != nil {
			return nil, fmt.Errorf("scan learning stats: %w", err)
		}
		s.Scope = scope
		s.WindowStart = fromUnix(start)
		s.WindowEnd = fromUnix(end)
		out = append(out, s)
	}
	return out, rows.Err()
}
