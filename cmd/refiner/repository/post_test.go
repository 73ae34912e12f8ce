package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/errs"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostRepository_Get(t *testing.T) {
	mock := newMock(t)
	repo := NewPostRepository(mock)

	id := uuid.New()
	now := time.Now().UTC()
	prev := 60.0

	mock.ExpectQuery(`SELECT .+ FROM posts\s+WHERE id = \$1 AND owner_id = \$2`).
		WithArgs(id, "alice").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "topic", "style", "voice_profile", "content", "score", "previous_score",
			"suggestions", "hook_id", "improvement_count", "version", "status", "created_at", "updated_at",
		}).AddRow(
			id, "alice", "AI adoption", "concise", "", "body", 72.0, &prev,
			[]string{"shorter"}, "question", 1, int64(1), models.StatusDraft, now, now,
		))

	post, err := repo.Get(context.Background(), id, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, post.ID)
	assert.Equal(t, 72.0, post.Score)
	require.NotNil(t, post.PreviousScore)
	assert.Equal(t, 60.0, *post.PreviousScore)
	assert.Equal(t, []string{"shorter"}, post.Suggestions)
	assert.Equal(t, int64(1), post.Version)
	assert.Equal(t, models.StatusDraft, post.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_Get_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewPostRepository(mock)
	id := uuid.New()

	mock.ExpectQuery(`FROM posts`).
		WithArgs(id, "mallory").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), id, "mallory")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_RecordScore_MissingRow(t *testing.T) {
	mock := newMock(t)
	repo := NewPostRepository(mock)
	id := uuid.New()

	mock.ExpectExec(`UPDATE posts\s+SET score = \$3`).
		WithArgs(id, "alice", 80.0, []string{}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.RecordScore(context.Background(), id, "alice", 80, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_SetStatus(t *testing.T) {
	mock := newMock(t)
	repo := NewPostRepository(mock)
	id := uuid.New()

	mock.ExpectExec(`UPDATE posts\s+SET status = \$3`).
		WithArgs(id, "alice", models.StatusFinal).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.SetStatus(context.Background(), id, "alice", models.StatusFinal))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_ApplyImprovement(t *testing.T) {
	expected := int64(3)

	tests := []struct {
		name      string
		outcome   string
		version   int64
		count     int
		wantErr   error
		wantMatch bool
	}{
		{name: "ok", outcome: "ok", version: 4, count: 4},
		{name: "not found", outcome: "not_found", wantErr: errs.ErrNotFound},
		{name: "version mismatch", outcome: "version_mismatch", version: 5, count: 5, wantErr: errs.ErrVersionMismatch, wantMatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			repo := NewPostRepository(mock)
			id := uuid.New()

			mock.ExpectQuery(`FROM apply_post_improvement\(\$1, \$2, \$3, \$4, \$5, \$6\)`).
				WithArgs(id, "alice", pgxmock.AnyArg(), "new body", 88.0, []string{"tighten"}).
				WillReturnRows(pgxmock.NewRows([]string{"outcome", "new_version", "new_improvement_count"}).
					AddRow(tt.outcome, tt.version, tt.count))

			res, err := repo.ApplyImprovement(context.Background(), models.Improvement{
				PostID:          id,
				OwnerID:         "alice",
				ExpectedVersion: &expected,
				Content:         "new body",
				Score:           88,
				Suggestions:     []string{"tighten"},
			})
			require.NoError(t, mock.ExpectationsWereMet())

			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.version, res.NewVersion)
				assert.Equal(t, tt.count, res.ImprovementCount)
				return
			}

			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMatch {
				var vm *errs.VersionMismatchError
				require.ErrorAs(t, err, &vm)
				assert.Equal(t, int64(3), vm.ExpectedVersion)
				assert.Equal(t, tt.version, vm.CurrentVersion)
			}
		})
	}
}

func TestPostRepository_History(t *testing.T) {
	mock := newMock(t)
	repo := NewPostRepository(mock)
	id := uuid.New()
	at := time.Now().UTC()
	prev := 60.0

	cols := []string{
		"id", "post_id", "owner_id", "version", "content", "score", "previous_score",
		"suggestions", "hook_id", "improvement_count", "status", "snapshot_at",
	}
	mock.ExpectQuery(`FROM post_history\s+WHERE post_id = \$1 AND owner_id = \$2\s+ORDER BY version DESC\s+LIMIT \$3`).
		WithArgs(id, "alice", 20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), id, "alice", int64(1), "second", 72.0, &prev, []string{"b"}, "story", 1, models.StatusDraft, at).
			AddRow(int64(1), id, "alice", int64(0), "first", 60.0, &prev, []string{"a"}, "story", 0, models.StatusDraft, at))

	snaps, err := repo.History(context.Background(), id, "alice", 20)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1), snaps[0].Version)
	assert.Equal(t, "second", snaps[0].Content)
	assert.Equal(t, int64(0), snaps[1].Version)
	assert.Equal(t, 60.0, snaps[1].Score)
	require.NoError(t, mock.ExpectationsWereMet())
}
