package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/app"
	httpSrv "github.com/jmehdipour/email-scheduler/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP admission API and the dispatch loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		redisClient, err := a.OpenRedis()
		if err != nil {
			return err
		}

		d, err := a.NewDispatch()
		if err != nil {
			return err
		}

		server := httpSrv.NewServer(a.Cfg, httpSrv.Deps{
			Emails:     a.EmailService(),
			Deliveries: a.Deliveries,
			Loop:       d.Scheduler,
			Runner:     d.Worker,
			Providers:  d.Dispatcher.Providers,
			Redis:      redisClient,
			Log:        a.Log.Named("http"),
		})

		if a.Cfg.Scheduler.Autostart {
			d.Scheduler.Start()
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(a.Cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		var runErr error
		select {
		case sig := <-sigCh:
			a.Log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case runErr = <-errCh:
			if runErr != nil {
				a.Log.Error("http server exited", zap.Error(runErr))
			}
		}

		timeout := a.Cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = server.Shutdown(ctx)

		// sends already started run to completion, bounded by send_timeout, before Stop returns
		d.Scheduler.Stop()

		return runErr
	},
}
