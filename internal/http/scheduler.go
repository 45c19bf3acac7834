package http

import (
	"context"
	"net/http"

	"github.com/jmehdipour/email-scheduler/internal/dispatcher"
	"github.com/jmehdipour/email-scheduler/internal/worker"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Loop is the start/stop surface of the dispatch scheduler.
type Loop interface {
	Start() bool
	Stop() bool
	IsRunning() bool
}

// CycleRunner runs one dispatch cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) (worker.CycleResult, error)
}

type schedulerStatus struct {
	Running   bool                        `json:"running"`
	Providers []dispatcher.ProviderStatus `json:"providers,omitempty"`
}

func schedulerStatusHandler(loop Loop, providers func() []dispatcher.ProviderStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		st := schedulerStatus{Running: loop.IsRunning()}
		if providers != nil {
			st.Providers = providers()
		}
		return c.JSON(http.StatusOK, st)
	}
}

func schedulerStartHandler(loop Loop) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := loop.Start()
		return c.JSON(http.StatusOK, map[string]bool{"running": true, "changed": started})
	}
}

func schedulerStopHandler(loop Loop) echo.HandlerFunc {
	return func(c echo.Context) error {
		stopped := loop.Stop()
		return c.JSON(http.StatusOK, map[string]bool{"running": false, "changed": stopped})
	}
}

func schedulerRunHandler(runner CycleRunner, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		// a client hanging up must not interrupt sends already handed to a provider
		res, err := runner.RunCycle(context.WithoutCancel(c.Request().Context()))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, map[string]int{
			"due":          res.Due,
			"sent":         res.Sent,
			"failed":       res.Failed,
			"lost":         res.Lost,
			"write_errors": res.WriteErrors,
			"skipped":      res.Skipped,
		})
	}
}
