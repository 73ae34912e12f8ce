package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/refinery/cmd/refiner/middleware"
	"github.com/lyzr/refinery/cmd/refiner/models"
	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/logger"
)

// PostService is the refinement API the handlers drive
type PostService interface {
	Refine(ctx context.Context, ownerID string, req models.RefineRequest) (*models.Post, error)
	Improve(ctx context.Context, ownerID string, id uuid.UUID, req models.ImproveRequest) (*models.ImproveResult, error)
	GetPost(ctx context.Context, ownerID string, id uuid.UUID) (*models.Post, error)
	History(ctx context.Context, ownerID string, id uuid.UUID, limit int) ([]models.HistoryEntry, error)
	Quota(ctx context.Context, ownerID string) (*models.QuotaReport, error)
}

// PostHandler handles post refinement requests
type PostHandler struct {
	svc PostService
	log *logger.Logger
}

// NewPostHandler creates a new post handler
func NewPostHandler(svc PostService, log *logger.Logger) *PostHandler {
	return &PostHandler{svc: svc, log: log}
}

func postID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errs.Validationf("invalid post id %q", c.Param("id"))
	}
	return id, nil
}

// Refine generates and refines a new post
// POST /api/v1/posts/refine
func (h *PostHandler) Refine(c echo.Context) error {
	var req models.RefineRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, h.log, errs.Validationf("invalid request body"))
	}

	post, err := h.svc.Refine(c.Request().Context(), middleware.GetOwnerID(c), req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, post)
}

// Improve runs one manual improvement
// POST /api/v1/posts/:id/improve
func (h *PostHandler) Improve(c echo.Context) error {
	id, err := postID(c)
	if err != nil {
		return writeError(c, h.log, err)
	}

	var req models.ImproveRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, h.log, errs.Validationf("invalid request body"))
	}

	res, err := h.svc.Improve(c.Request().Context(), middleware.GetOwnerID(c), id, req)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetPost returns a post
// GET /api/v1/posts/:id
func (h *PostHandler) GetPost(c echo.Context) error {
	id, err := postID(c)
	if err != nil {
		return writeError(c, h.log, err)
	}

	post, err := h.svc.GetPost(c.Request().Context(), middleware.GetOwnerID(c), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, post)
}

// GetHistory returns the post's snapshots, most recent first
// GET /api/v1/posts/:id/history?limit=20
func (h *PostHandler) GetHistory(c echo.Context) error {
	id, err := postID(c)
	if err != nil {
		return writeError(c, h.log, err)
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return writeError(c, h.log, errs.Validationf("limit must be a positive integer"))
		}
	}

	entries, err := h.svc.History(c.Request().Context(), middleware.GetOwnerID(c), id, limit)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"post_id": id,
		"entries": entries,
		"count":   len(entries),
	})
}

// GetQuota reports remaining quota and today's usage
// GET /api/v1/quota
func (h *PostHandler) GetQuota(c echo.Context) error {
	report, err := h.svc.Quota(c.Request().Context(), middleware.GetOwnerID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, report)
}
