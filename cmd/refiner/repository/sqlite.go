package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/migrate"
)

// SQLiteStore implements PostStore and HookStore on a single SQLite file.
// All access goes through one connection, so a transaction is exclusive and
// the apply-improvement contract holds without row locks.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies migrations
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrate.UpSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeSuggestions(s []string) (string, error) {
	b, err := json.Marshal(nonNil(s))
	if err != nil {
		return "", fmt.Errorf("encode suggestions: %w", err)
	}
	return string(b), nil
}

func decodeSuggestions(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	return out, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// Create inserts a new post
func (s *SQLiteStore) Create(ctx context.Context, post *models.Post) error {
	suggestions, err := encodeSuggestions(post.Suggestions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID.String(),
		post.OwnerID,
		post.Topic,
		post.Style,
		post.VoiceProfile,
		post.Content,
		post.Score,
		nullFloat(post.PreviousScore),
		suggestions,
		post.HookID,
		post.ImprovementCount,
		post.Version,
		string(post.Status),
		post.CreatedAt.UnixNano(),
		post.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		post        models.Post
		id          string
		prev        sql.NullFloat64
		suggestions string
		status      string
		created     int64
		updated     int64
	)
	if err := row.Scan(
		&id,
		&post.OwnerID,
		&post.Topic,
		&post.Style,
		&post.VoiceProfile,
		&post.Content,
		&post.Score,
		&prev,
		&suggestions,
		&post.HookID,
		&post.ImprovementCount,
		&post.Version,
		&status,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse post id: %w", err)
	}
	post.ID = parsed
	post.PreviousScore = floatPtr(prev)
	if post.Suggestions, err = decodeSuggestions(suggestions); err != nil {
		return nil, err
	}
	post.Status = models.PostStatus(status)
	post.CreatedAt = time.Unix(0, created).UTC()
	post.UpdatedAt = time.Unix(0, updated).UTC()
	return &post, nil
}

// Get retrieves a post by id for its owner
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID, ownerID string) (*models.Post, error) {
	return s.get(ctx, s.db, id, ownerID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q querier, id uuid.UUID, ownerID string) (*models.Post, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE id = ? AND owner_id = ?`,
		id.String(), ownerID,
	)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

// RecordScore stores score and suggestions without touching the version
func (s *SQLiteStore) RecordScore(ctx context.Context, id uuid.UUID, ownerID string, score float64, suggestions []string) error {
	encoded, err := encodeSuggestions(suggestions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET score = ?, suggestions = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		score, encoded, s.now().UnixNano(), id.String(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to record score: %w", err)
	}
	return requireRow(res, id)
}

// SetStatus updates the lifecycle status
func (s *SQLiteStore) SetStatus(ctx context.Context, id uuid.UUID, ownerID string, status models.PostStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		string(status), s.now().UnixNano(), id.String(), ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("post %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// ApplyImprovement reads, checks, snapshots and updates in one transaction
func (s *SQLiteStore) ApplyImprovement(ctx context.Context, imp models.Improvement) (*models.ImprovementResult, error) {
	suggestions, err := encodeSuggestions(imp.Suggestions)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.get(ctx, tx, imp.PostID, imp.OwnerID)
	if errors.Is(err, errs.ErrNotFound) {
		return improvementOutcome(imp, "not_found", 0, 0)
	}
	if err != nil {
		return nil, err
	}

	if imp.ExpectedVersion != nil && *imp.ExpectedVersion != cur.Version {
		return improvementOutcome(imp, "version_mismatch", cur.Version, cur.ImprovementCount)
	}

	curSuggestions, err := encodeSuggestions(cur.Suggestions)
	if err != nil {
		return nil, err
	}
	now := s.now().UnixNano()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO post_history (
			post_id, owner_id, version, content, score, previous_score,
			suggestions, hook_id, improvement_count, status, snapshot_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cur.ID.String(), cur.OwnerID, cur.Version, cur.Content, cur.Score, nullFloat(cur.PreviousScore),
		curSuggestions, cur.HookID, cur.ImprovementCount, string(cur.Status), now,
	); err != nil {
		return nil, fmt.Errorf("failed to snapshot post: %w", err)
	}

	newVersion := cur.Version + 1
	newCount := cur.ImprovementCount + 1
	if _, err := tx.ExecContext(ctx, `
		UPDATE posts SET
			content = ?, previous_score = ?, score = ?, suggestions = ?,
			improvement_count = ?, version = ?, updated_at = ?
		WHERE id = ?`,
		imp.Content, cur.Score, imp.Score, suggestions,
		newCount, newVersion, now, cur.ID.String(),
	); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit improvement: %w", err)
	}

	return improvementOutcome(imp, "ok", newVersion, newCount)
}

// History returns pre-mutation snapshots, most recent first
func (s *SQLiteStore) History(ctx context.Context, id uuid.UUID, ownerID string, limit int) ([]*models.PostSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, owner_id, version, content, score, previous_score,
		       suggestions, hook_id, improvement_count, status, snapshot_at
		FROM post_history
		WHERE post_id = ? AND owner_id = ?
		ORDER BY version DESC
		LIMIT ?`,
		id.String(), ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PostSnapshot
	for rows.Next() {
		var (
			snap        models.PostSnapshot
			postID      string
			prev        sql.NullFloat64
			suggestions string
			status      string
			at          int64
		)
		if err := rows.Scan(
			&snap.ID,
			&postID,
			&snap.OwnerID,
			&snap.Version,
			&snap.Content,
			&snap.Score,
			&prev,
			&suggestions,
			&snap.HookID,
			&snap.ImprovementCount,
			&status,
			&at,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if snap.PostID, err = uuid.Parse(postID); err != nil {
			return nil, fmt.Errorf("parse post id: %w", err)
		}
		if snap.Suggestions, err = decodeSuggestions(suggestions); err != nil {
			return nil, err
		}
		snap.PreviousScore = floatPtr(prev)
		snap.Status = models.PostStatus(status)
		snap.SnapshotAt = time.Unix(0, at).UTC()
		snapshots = append(snapshots, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return snapshots, nil
}

// Record appends a hook usage and trims the owner's ledger
func (s *SQLiteStore) Record(ctx context.Context, ownerID, hookID string, usedAt time.Time, retain int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO hook_usage (owner_id, hook_id, used_at) VALUES (?, ?, ?)`,
		ownerID, hookID, usedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to record hook usage: %w", err)
	}

	if retain > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM hook_usage
			WHERE owner_id = ? AND id NOT IN (
				SELECT id FROM hook_usage WHERE owner_id = ? ORDER BY id DESC LIMIT ?
			)`,
			ownerID, ownerID, retain,
		); err != nil {
			return fmt.Errorf("failed to trim hook ledger: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns up to n distinct hook ids, most recent first
func (s *SQLiteStore) Recent(ctx context.Context, ownerID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hook_id FROM hook_usage
		WHERE owner_id = ?
		GROUP BY hook_id
		ORDER BY MAX(id) DESC
		LIMIT ?`,
		ownerID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query hook usage: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Rollback reverts every applied migration on the store's database
func (s *SQLiteStore) Rollback(ctx context.Context) error {
	return migrate.DownSQLite(ctx, s.db)
}
