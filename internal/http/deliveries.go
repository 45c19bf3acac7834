package http

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/email-scheduler/internal/repository"
	"github.com/jmehdipour/email-scheduler/internal/util"
	"github.com/jmehdipour/email-scheduler/internal/validation"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func listDeliveriesHandler(repo repository.DeliveriesRepository, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if !util.ValidID(id) {
			return c.JSON(http.StatusNotFound, validation.ErrorBody{Error: "not_found"})
		}

		limit := 50
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}

		attempts, err := repo.ListByEmail(c.Request().Context(), id, limit)
		if err != nil {
			return writeError(c, log, err)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"email_id": id,
			"count":    len(attempts),
			"results":  attempts,
		})
	}
}
