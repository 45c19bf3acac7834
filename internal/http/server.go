package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/config"
	"github.com/jmehdipour/email-scheduler/internal/dispatcher"
	"github.com/jmehdipour/email-scheduler/internal/http/middleware"
	"github.com/jmehdipour/email-scheduler/internal/metrics"
	"github.com/jmehdipour/email-scheduler/internal/repository"
	"github.com/jmehdipour/email-scheduler/internal/service/emails"
	"github.com/jmehdipour/email-scheduler/internal/validation"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators of the admission API.
type Deps struct {
	Emails     *emails.Service
	Deliveries repository.DeliveriesRepository
	Loop       Loop
	Runner     CycleRunner
	Providers  func() []dispatcher.ProviderStatus
	Redis      *redis.Client // optional; enables rate limiting
	Log        *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	lg := d.Log
	if lg == nil {
		lg = zap.NewNop()
	}
	if d.Deliveries == nil {
		d.Deliveries = repository.NopDeliveriesRepository{}
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.ERROR)
	e.Validator = validation.New()
	e.Use(echoMid.Recover(), requestLogger(lg))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Auth.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:client:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/emails", createEmailHandler(d.Emails, lg))
	v1.GET("/emails", listEmailsHandler(d.Emails, lg))
	v1.GET("/emails/:id", getEmailHandler(d.Emails, lg))
	v1.PATCH("/emails/:id", updateEmailHandler(d.Emails, lg))
	v1.DELETE("/emails/:id", deleteEmailHandler(d.Emails, lg))
	v1.GET("/emails/:id/deliveries", listDeliveriesHandler(d.Deliveries, lg))

	if d.Loop != nil {
		v1.GET("/scheduler/status", schedulerStatusHandler(d.Loop, d.Providers))
		v1.POST("/scheduler/start", schedulerStartHandler(d.Loop))
		v1.POST("/scheduler/stop", schedulerStopHandler(d.Loop))
	}
	if d.Runner != nil {
		v1.POST("/scheduler/run", schedulerRunHandler(d.Runner, lg))
	}

	return &Server{e: e, log: lg}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

// Start blocks serving addr. A clean shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func requestLogger(lg *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				lg.Warn("http request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			lg.Info("http request", fields...)
			return nil
		},
	})
}
