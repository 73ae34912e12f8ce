package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/refinery/common/errs"
	"github.com/lyzr/refinery/common/logger"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeError maps the error taxonomy to a status code and body
func writeError(c echo.Context, log *logger.Logger, err error) error {
	code := errs.Code(err)
	resp := ErrorResponse{Error: code, Message: err.Error(), Retryable: errs.Retryable(err)}
	status := http.StatusInternalServerError

	var (
		rl *errs.RateLimitError
		vm *errs.VersionMismatchError
		be *errs.BackendError
	)
	switch {
	case errors.As(err, &rl):
		status = http.StatusTooManyRequests
		c.Response().Header().Set("Retry-After", strconv.FormatInt(rl.RetryAfterSeconds(), 10))
		resp.Details = map[string]any{
			"kind":                rl.Kind,
			"retry_after_seconds": rl.RetryAfterSeconds(),
			"reset_at":            rl.ResetAt.Unix(),
		}
	case errors.As(err, &vm):
		status = http.StatusConflict
		resp.Message = "post was modified by another request"
		resp.Details = map[string]any{
			"current_version":  vm.CurrentVersion,
			"expected_version": vm.ExpectedVersion,
		}
	case errors.As(err, &be):
		status = http.StatusServiceUnavailable
		resp.Message = be.Backend + " backend unavailable, try again shortly"
		resp.Details = map[string]any{"backend": be.Backend, "attempts": be.Attempts}
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
		resp.Message = "post not found"
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	default:
		resp.Message = "internal error"
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.Path(), "code", code, "error", err)
	} else {
		log.Debug("request rejected", "path", c.Path(), "code", code, "error", err)
	}
	return c.JSON(status, resp)
}
