package http

import (
	"net/http"

	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmehdipour/email-scheduler/internal/service/emails"
	"github.com/jmehdipour/email-scheduler/internal/validation"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func createEmailHandler(svc *emails.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req emails.CreateInput
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "body", "malformed")
		}

		e, err := svc.Create(c.Request().Context(), req)
		if err != nil {
			return writeError(c, log, err)
		}

		return c.JSON(http.StatusCreated, e)
	}
}

func getEmailHandler(svc *emails.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		e, err := svc.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, e)
	}
}

func updateEmailHandler(svc *emails.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req emails.UpdateInput
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "body", "malformed")
		}

		e, err := svc.Update(c.Request().Context(), c.Param("id"), req)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, e)
	}
}

func deleteEmailHandler(svc *emails.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		e, err := svc.Delete(c.Request().Context(), c.Param("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, e)
	}
}

type listReq struct {
	Status string `query:"status" json:"status" validate:"omitempty,oneof=scheduled sent failed"`
	Limit  int    `query:"limit"  json:"limit"  validate:"min=0,max=1000"`
	Offset int    `query:"offset" json:"offset" validate:"min=0"`
}

func listEmailsHandler(svc *emails.Service, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req listReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "query", "malformed")
		}
		if err := c.Validate(&req); err != nil {
			return c.JSON(http.StatusBadRequest, validation.ErrorResponse(err))
		}

		f := model.ListFilter{Limit: req.Limit, Offset: req.Offset}
		if req.Status != "" {
			f.Status, _ = model.ParseStatus(req.Status)
		}

		list, err := svc.List(c.Request().Context(), f)
		if err != nil {
			return writeError(c, log, err)
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   req.Limit,
			"offset":  req.Offset,
			"count":   len(list),
			"results": list,
		})
	}
}
