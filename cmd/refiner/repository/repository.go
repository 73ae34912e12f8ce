package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/refinery/cmd/refiner/models"
)

// PostStore persists posts and their history.
//
// Lookups are scoped by owner: a post owned by someone else is reported as
// errs.ErrNotFound.
type PostStore interface {
	Create(ctx context.Context, post *models.Post) error
	Get(ctx context.Context, id uuid.UUID, ownerID string) (*models.Post, error)

	// RecordScore stores the score of the current content. Not a content
	// mutation, so the version is unchanged.
	RecordScore(ctx context.Context, id uuid.UUID, ownerID string, score float64, suggestions []string) error
	SetStatus(ctx context.Context, id uuid.UUID, ownerID string, status models.PostStatus) error

	// ApplyImprovement atomically checks the version, snapshots the current
	// row into history and writes the new content. Fails with
	// *errs.VersionMismatchError or errs.ErrNotFound.
	ApplyImprovement(ctx context.Context, imp models.Improvement) (*models.ImprovementResult, error)

	// History returns snapshots most recent first
	History(ctx context.Context, id uuid.UUID, ownerID string, limit int) ([]*models.PostSnapshot, error)
}

// HookStore is the per-owner hook ledger
type HookStore interface {
	// Record appends a usage and trims the owner's ledger to retain entries
	Record(ctx context.Context, ownerID, hookID string, usedAt time.Time, retain int) error
	// Recent returns up to n distinct hook ids, most recent first
	Recent(ctx context.Context, ownerID string, n int) ([]string, error)
}
