package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/db"
	"github.com/lyzr/refinery/common/errs"
)

// PostRepository handles database operations for posts
type PostRepository struct {
	db db.Pool
}

// NewPostRepository creates a new post repository
func NewPostRepository(pool db.Pool) *PostRepository {
	return &PostRepository{db: pool}
}

const postColumns = `id, owner_id, topic, style, voice_profile, content, score, previous_score,
	suggestions, hook_id, improvement_count, version, status, created_at, updated_at`

// Create inserts a new post
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		post.ID,
		post.OwnerID,
		post.Topic,
		post.Style,
		post.VoiceProfile,
		post.Content,
		post.Score,
		post.PreviousScore,
		nonNil(post.Suggestions),
		post.HookID,
		post.ImprovementCount,
		post.Version,
		post.Status,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}

	return nil
}

// Get retrieves a post by id for its owner
func (r *PostRepository) Get(ctx context.Context, id uuid.UUID, ownerID string) (*models.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE id = $1 AND owner_id = $2
	`

	post := &models.Post{}
	err := r.db.QueryRow(ctx, query, id, ownerID).Scan(
		&post.ID,
		&post.OwnerID,
		&post.Topic,
		&post.Style,
		&post.VoiceProfile,
		&post.Content,
		&post.Score,
		&post.PreviousScore,
		&post.Suggestions,
		&post.HookID,
		&post.ImprovementCount,
		&post.Version,
		&post.Status,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	return post, nil
}

// RecordScore stores score and suggestions without touching the version
func (r *PostRepository) RecordScore(ctx context.Context, id uuid.UUID, ownerID string, score float64, suggestions []string) error {
	query := `
		UPDATE posts
		SET score = $3, suggestions = $4, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, ownerID, score, nonNil(suggestions))
	if err != nil {
		return fmt.Errorf("failed to record score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", id, errs.ErrNotFound)
	}

	return nil
}

// SetStatus updates the lifecycle status
func (r *PostRepository) SetStatus(ctx context.Context, id uuid.UUID, ownerID string, status models.PostStatus) error {
	query := `
		UPDATE posts
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, ownerID, status)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", id, errs.ErrNotFound)
	}

	return nil
}

// ApplyImprovement runs apply_post_improvement, which reads, checks,
// snapshots and updates inside one server-side transaction
func (r *PostRepository) ApplyImprovement(ctx context.Context, imp models.Improvement) (*models.ImprovementResult, error) {
	query := `
		SELECT outcome, new_version, new_improvement_count
		FROM apply_post_improvement($1, $2, $3, $4, $5, $6)
	`

	var (
		outcome string
		version int64
		count   int
	)
	err := r.db.QueryRow(ctx, query,
		imp.PostID,
		imp.OwnerID,
		imp.ExpectedVersion,
		imp.Content,
		imp.Score,
		nonNil(imp.Suggestions),
	).Scan(&outcome, &version, &count)
	if err != nil {
		return nil, fmt.Errorf("failed to apply improvement: %w", err)
	}

	return improvementOutcome(imp, outcome, version, count)
}

func improvementOutcome(imp models.Improvement, outcome string, version int64, count int) (*models.ImprovementResult, error) {
	switch outcome {
	case "ok":
		return &models.ImprovementResult{NewVersion: version, ImprovementCount: count}, nil
	case "not_found":
		return nil, fmt.Errorf("post %s: %w", imp.PostID, errs.ErrNotFound)
	case "version_mismatch":
		var expected int64
		if imp.ExpectedVersion != nil {
			expected = *imp.ExpectedVersion
		}
		return nil, &errs.VersionMismatchError{
			PostID:          imp.PostID.String(),
			ExpectedVersion: expected,
			CurrentVersion:  version,
		}
	default:
		return nil, fmt.Errorf("unexpected improvement outcome %q", outcome)
	}
}

// History returns pre-mutation snapshots, most recent first
func (r *PostRepository) History(ctx context.Context, id uuid.UUID, ownerID string, limit int) ([]*models.PostSnapshot, error) {
	query := `
		SELECT id, post_id, owner_id, version, content, score, previous_score,
		       suggestions, hook_id, improvement_count, status, snapshot_at
		FROM post_history
		WHERE post_id = $1 AND owner_id = $2
		ORDER BY version DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, id, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PostSnapshot
	for rows.Next() {
		s := &models.PostSnapshot{}
		if err := rows.Scan(
			&s.ID,
			&s.PostID,
			&s.OwnerID,
			&s.Version,
			&s.Content,
			&s.Score,
			&s.PreviousScore,
			&s.Suggestions,
			&s.HookID,
			&s.ImprovementCount,
			&s.Status,
			&s.SnapshotAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return snapshots, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
