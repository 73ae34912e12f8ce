package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/refinery/common/db"
)

// HookRepository is the Postgres hook ledger
type HookRepository struct {
	db db.Pool
}

// NewHookRepository creates a new hook repository
func NewHookRepository(pool db.Pool) *HookRepository {
	return &HookRepository{db: pool}
}

// Record appends a usage and trims the ledger in one transaction
func (r *HookRepository) Record(ctx context.Context, ownerID, hookID string, usedAt time.Time, retain int) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO hook_usage (owner_id, hook_id, used_at) VALUES ($1, $2, $3)`,
		ownerID, hookID, usedAt,
	); err != nil {
		return fmt.Errorf("failed to record hook usage: %w", err)
	}

	if retain > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM hook_usage
			WHERE owner_id = $1 AND id NOT IN (
				SELECT id FROM hook_usage WHERE owner_id = $1 ORDER BY id DESC LIMIT $2
			)`,
			ownerID, retain,
		); err != nil {
			return fmt.Errorf("failed to trim hook ledger: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit hook usage: %w", err)
	}
	return nil
}

// Recent returns up to n distinct hook ids, most recent first
func (r *HookRepository) Recent(ctx context.Context, ownerID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT hook_id FROM hook_usage
		WHERE owner_id = $1
		GROUP BY hook_id
		ORDER BY MAX(id) DESC
		LIMIT $2`,
		ownerID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query hook usage: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, n)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan hook id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}
