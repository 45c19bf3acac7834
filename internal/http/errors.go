package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmehdipour/email-scheduler/internal/repository"
	"github.com/jmehdipour/email-scheduler/internal/validation"
	"github.com/jmehdipour/email-scheduler/internal/worker"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// writeError maps domain errors to status codes and the standard error body.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, validation.ErrorBody{Error: "validation_failed", Fields: verr.Fields})
	case errors.Is(err, model.ErrValidation):
		return c.JSON(http.StatusBadRequest, validation.ErrorBody{Error: "validation_failed"})
	case errors.Is(err, model.ErrNotFound), errors.Is(err, repository.ErrAuditDisabled):
		return c.JSON(http.StatusNotFound, validation.ErrorBody{Error: "not_found"})
	case errors.Is(err, model.ErrStateConflict):
		return c.JSON(http.StatusConflict, validation.ErrorBody{Error: "state_conflict"})
	case errors.Is(err, worker.ErrCycleInProgress):
		return c.JSON(http.StatusConflict, validation.ErrorBody{Error: "cycle_in_progress"})
	}

	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, validation.ErrorBody{Error: "internal"})
}

func badRequest(c echo.Context, field, reason string) error {
	return c.JSON(http.StatusBadRequest, validation.ErrorBody{
		Error:  "validation_failed",
		Fields: map[string][]string{field: {reason}},
	})
}
