package app

import (
	"errors"
	"fmt"

	"github.com/jmehdipour/email-scheduler/internal/clock"
	"github.com/jmehdipour/email-scheduler/internal/config"
	"github.com/jmehdipour/email-scheduler/internal/db"
	"github.com/jmehdipour/email-scheduler/internal/dispatcher"
	"github.com/jmehdipour/email-scheduler/internal/kafka"
	"github.com/jmehdipour/email-scheduler/internal/logger"
	"github.com/jmehdipour/email-scheduler/internal/repository"
	"github.com/jmehdipour/email-scheduler/internal/scheduler"
	"github.com/jmehdipour/email-scheduler/internal/service/emails"
	"github.com/jmehdipour/email-scheduler/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the process-wide wiring shared by the CLI commands.
type App struct {
	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock

	Emails     repository.EmailsRepository
	Deliveries repository.DeliveriesRepository

	closers []func() error
}

// Bootstrap loads and validates config, initializes logging and opens the
// record store and the delivery audit log.
func Bootstrap(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		Cfg:        cfg,
		Log:        logger.Init(cfg.Log.Level),
		Clock:      clock.System{},
		Deliveries: repository.NopDeliveriesRepository{},
	}

	if err := a.openStorage(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openAudit(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) openStorage() error {
	switch a.Cfg.Storage.Driver {
	case "memory":
		a.Log.Warn("using in-memory storage; records are lost on exit")
		a.Emails = repository.NewMemoryEmailsRepository().WithClock(a.Clock)
		return nil
	default:
		mysqlDB, err := db.NewMySQLConnection(a.Cfg.MySQL.DSN, db.MySQLOptsFrom(a.Cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		a.onClose(mysqlDB.Close)
		a.Emails = repository.NewMySQLEmailsRepository(mysqlDB).WithClock(a.Clock)
		return nil
	}
}

func (a *App) openAudit() error {
	if !a.Cfg.ClickHouse.Enabled {
		return nil
	}
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOptsFrom(a.Cfg.ClickHouse))
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	a.onClose(chDB.Close)
	a.Deliveries = repository.NewCHDeliveriesRepository(chDB)
	return nil
}

// OpenRedis returns nil when redis.addr is empty.
func (a *App) OpenRedis() (*redis.Client, error) {
	rdb, err := db.NewRedisClient(db.RedisOptsFrom(a.Cfg.Redis))
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	if rdb != nil {
		a.onClose(rdb.Close)
	}
	return rdb, nil
}

// EmailService builds the admission service on the app's store and clock.
func (a *App) EmailService() *emails.Service {
	return emails.New(a.Emails, a.Clock, a.Log.Named("emails"))
}

// BuildProviders turns the enabled provider sections of cfg into providers.
func BuildProviders(cfg config.Config) []dispatcher.Provider {
	var provs []dispatcher.Provider
	if cfg.SMTP.Enabled {
		provs = append(provs, dispatcher.NewSMTPProvider(
			cfg.SMTP.Host,
			cfg.SMTP.Port,
			cfg.SMTP.Username,
			cfg.SMTP.Password,
			cfg.SMTP.Timeout,
			cfg.SMTP.Breaker.FailThreshold,
			cfg.SMTP.Breaker.OpenFor,
		))
	}
	if cfg.HTTPAPI.Enabled {
		provs = append(provs, dispatcher.NewHTTPProvider(
			cfg.HTTPAPI.Name,
			cfg.HTTPAPI.BaseURL,
			cfg.HTTPAPI.Path,
			cfg.HTTPAPI.APIKey,
			cfg.HTTPAPI.Timeout,
			cfg.HTTPAPI.Breaker.FailThreshold,
			cfg.HTTPAPI.Breaker.OpenFor,
		))
	}
	return provs
}

// Dispatch is the wired dispatch loop: worker plus the scheduler driving it.
type Dispatch struct {
	Dispatcher *dispatcher.Dispatcher
	Worker     *worker.DispatchWorker
	Scheduler  *scheduler.Scheduler
}

// NewDispatch wires providers, the Kafka status publisher, the worker and the scheduler.
func (a *App) NewDispatch() (*Dispatch, error) {
	disp, err := dispatcher.NewDispatcher(BuildProviders(a.Cfg), a.Cfg.Scheduler.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	w := worker.NewDispatchWorker(a.Emails, disp, a.Cfg.Mail.From)
	w.Workers = a.Cfg.Scheduler.Workers
	w.Clock = a.Clock
	w.Log = a.Log.Named("dispatch")
	w.Deliveries = a.Deliveries

	if len(a.Cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisherFromConfig(kafka.Config{
			Brokers:      a.Cfg.Kafka.Brokers,
			Topic:        a.Cfg.Kafka.StatusTopic,
			BatchTimeout: a.Cfg.Kafka.BatchTimeout,
		})
		a.onClose(pub.Close)
		w.Events = pub
	}

	sch, err := scheduler.New(a.Cfg.Scheduler.Interval, w.Tick, a.Log.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	return &Dispatch{Dispatcher: disp, Worker: w, Scheduler: sch}, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything opened by the app in reverse order.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil && a.Log != nil {
		a.Log.Warn("close resources", zap.Error(err))
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
}
