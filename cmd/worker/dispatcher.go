package worker

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/app"
	"github.com/jmehdipour/email-scheduler/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Run the dispatch loop without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
		a, err := app.Bootstrap(cfgPath)
		if err != nil {
			return err
		}
		defer a.Close()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		d, err := a.NewDispatch()
		if err != nil {
			return err
		}

		var metricsSrv *http.Server
		if addr := a.Cfg.Worker.MetricsAddr; addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.Log.Error("metrics server exited", zap.Error(err))
				}
			}()
		}

		// graceful shutdown
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.Log.Info("dispatch worker started",
			zap.Duration("interval", d.Scheduler.Interval()),
			zap.Int("workers", a.Cfg.Scheduler.Workers),
			zap.Duration("send_timeout", a.Cfg.Scheduler.SendTimeout),
		)
		d.Scheduler.Start()

		<-ctx.Done()

		d.Scheduler.Stop()
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(sctx)
		}
		return nil
	},
}
