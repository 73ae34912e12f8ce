package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/refinery/cmd/refiner/middleware"
	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/logger"
)

type fakeService struct {
	post     *models.Post
	err      error
	owner    string
	limit    int
	improved models.ImproveRequest
}

func (f *fakeService) Refine(_ context.Context, ownerID string, req models.RefineRequest) (*models.Post, error) {
	f.owner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return f.post, nil
}

func (f *fakeService) Improve(_ context.Context, ownerID string, id uuid.UUID, req models.ImproveRequest) (*models.ImproveResult, error) {
	f.owner = ownerID
	f.improved = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.ImproveResult{PostID: id, NewVersion: f.post.Version + 1}, nil
}

func (f *fakeService) GetPost(_ context.Context, ownerID string, id uuid.UUID) (*models.Post, error) {
	f.owner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return f.post, nil
}

func (f *fakeService) History(_ context.Context, ownerID string, id uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	f.owner = ownerID
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []models.HistoryEntry{{PostSnapshot: &models.PostSnapshot{PostID: id}}}, nil
}

func (f *fakeService) Quota(_ context.Context, ownerID string) (*models.QuotaReport, error) {
	f.owner = ownerID
	if f.err != nil {
		return nil, f.err
	}
	return &models.QuotaReport{OwnerID: ownerID}, nil
}

func newTestEcho(svc PostService) *echo.Echo {
	h := NewPostHandler(svc, logger.Discard())
	e := echo.New()
	api := e.Group("/api/v1", middleware.RequireOwner())
	api.POST("/posts/refine", h.Refine)
	api.POST("/posts/:id/improve", h.Improve)
	api.GET("/posts/:id", h.GetPost)
	api.GET("/posts/:id/history", h.GetHistory)
	api.GET("/quota", h.GetQuota)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRefine_Created(t *testing.T) {
	svc := &fakeService{post: &models.Post{ID: uuid.New(), Version: 2, Status: models.StatusFinal}}
	e := newTestEcho(svc)

	rec := do(e, http.MethodPost, "/api/v1/posts/refine", `{"topic":"remote work","style":"casual"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", svc.owner)
	var post models.Post
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &post))
	assert.Equal(t, int64(2), post.Version)
	assert.Equal(t, models.StatusFinal, post.Status)
}

func TestRefine_BadBody(t *testing.T) {
	e := newTestEcho(&fakeService{})
	rec := do(e, http.MethodPost, "/api/v1/posts/refine", `{"topic":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode(t, rec).Error)
}

func TestImprove_PassesFeedback(t *testing.T) {
	svc := &fakeService{post: &models.Post{Version: 1}}
	e := newTestEcho(svc)
	id := uuid.New()

	rec := do(e, http.MethodPost, "/api/v1/posts/"+id.String()+"/improve", `{"expected_version":1,"feedback":"shorter"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.improved.ExpectedVersion)
	assert.Equal(t, int64(1), *svc.improved.ExpectedVersion)
	assert.Equal(t, "shorter", svc.improved.Feedback)
}

func TestErrorMapping(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
		check     func(t *testing.T, rec *httptest.ResponseRecorder, body ErrorResponse)
	}{
		{
			name:   "version mismatch",
			err:    &errs.VersionMismatchError{PostID: id, ExpectedVersion: 1, CurrentVersion: 3},
			status: http.StatusConflict,
			code:   "version_mismatch",
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Equal(t, float64(3), body.Details["current_version"])
				assert.Equal(t, float64(1), body.Details["expected_version"])
			},
		},
		{
			name:   "not found",
			err:    fmt.Errorf("post %s: %w", id, errs.ErrNotFound),
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:      "generator unavailable",
			err:       &errs.BackendError{Backend: errs.BackendGenerator, Attempts: 3, Err: fmt.Errorf("timeout")},
			status:    http.StatusServiceUnavailable,
			code:      "generation_unavailable",
			retryable: true,
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Equal(t, "generator", body.Details["backend"])
				assert.Equal(t, float64(3), body.Details["attempts"])
			},
		},
		{
			name:      "scorer unavailable",
			err:       &errs.BackendError{Backend: errs.BackendScorer, Attempts: 3, Err: fmt.Errorf("bad json")},
			status:    http.StatusServiceUnavailable,
			code:      "scoring_unavailable",
			retryable: true,
		},
		{
			name:      "rate limited",
			err:       &errs.RateLimitError{Kind: "improvement", Limit: 20, RetryAfter: 90 * time.Second, ResetAt: time.Unix(1_700_000_000, 0)},
			status:    http.StatusTooManyRequests,
			code:      "rate_limited",
			retryable: true,
			check: func(t *testing.T, rec *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Equal(t, "90", rec.Header().Get("Retry-After"))
				assert.Equal(t, "improvement", body.Details["kind"])
			},
		},
		{
			name:   "unexpected",
			err:    fmt.Errorf("connection reset"),
			status: http.StatusInternalServerError,
			code:   "internal_error",
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Equal(t, "internal error", body.Message)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEcho(&fakeService{err: tt.err})
			rec := do(e, http.MethodGet, "/api/v1/posts/"+id, "")

			require.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.retryable, body.Retryable)
			if tt.check != nil {
				tt.check(t, rec, body)
			}
		})
	}
}

func TestGetPost_BadID(t *testing.T) {
	e := newTestEcho(&fakeService{})
	rec := do(e, http.MethodGet, "/api/v1/posts/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode(t, rec).Error)
}

func TestGetHistory_Limit(t *testing.T) {
	svc := &fakeService{}
	e := newTestEcho(svc)
	id := uuid.New()

	rec := do(e, http.MethodGet, "/api/v1/posts/"+id.String()+"/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.limit)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id.String(), body["post_id"])
	assert.Equal(t, float64(1), body["count"])

	for _, bad := range []string{"0", "-2", "ten"} {
		rec := do(e, http.MethodGet, "/api/v1/posts/"+id.String()+"/history?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestGetQuota(t *testing.T) {
	svc := &fakeService{}
	e := newTestEcho(svc)

	rec := do(e, http.MethodGet, "/api/v1/quota", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", svc.owner)
}
