// Package app wires configuration into stores, services and schedulers for
// the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/config"
	"github.com/jmehdipour/clinic-recall/internal/db"
	"github.com/jmehdipour/clinic-recall/internal/dispatcher"
	"github.com/jmehdipour/clinic-recall/internal/events"
	httpSrv "github.com/jmehdipour/clinic-recall/internal/http"
	"github.com/jmehdipour/clinic-recall/internal/kafka"
	"github.com/jmehdipour/clinic-recall/internal/lock"
	"github.com/jmehdipour/clinic-recall/internal/logger"
	"github.com/jmehdipour/clinic-recall/internal/metrics"
	"github.com/jmehdipour/clinic-recall/internal/repository"
	"github.com/jmehdipour/clinic-recall/internal/rules"
	"github.com/jmehdipour/clinic-recall/internal/scheduler"
	"github.com/jmehdipour/clinic-recall/internal/service/controls"
	"github.com/jmehdipour/clinic-recall/internal/service/reminders"
	"github.com/jmehdipour/clinic-recall/internal/service/webhook"
	"github.com/jmehdipour/clinic-recall/internal/worker"
)

type App struct {
	Cfg config.Config
	Log *zap.Logger
	Loc *time.Location

	MySQL      *sqlx.DB
	ClickHouse *sqlx.DB      // nil unless clickhouse.enabled
	Redis      *redis.Client // nil unless redis.addr is set

	Publisher  events.Publisher
	Locker     scheduler.Locker
	Sender     *dispatcher.Adapter
	Reminders  *reminders.Service
	Controls   *controls.Service
	Rules      *rules.Service
	Reconciler *webhook.Reconciler

	Users        repository.UsersRepository
	Patients     repository.PatientsRepository
	Services     repository.ServicesRepository
	Appointments repository.AppointmentsRepository
	Reports      repository.CHEventsRepository // nil unless clickhouse.enabled

	closers []func() error
}

// Load reads and validates configuration and builds the process logger.
func Load(cfgPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func pool(c config.DatabaseConfig) db.PoolOpts {
	return db.PoolOpts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

// OpenMySQL connects only the OLTP store; used by migrate and seed.
func OpenMySQL(cfg config.Config) (*sqlx.DB, error) {
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, pool(cfg.MySQL))
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return dbx, nil
}

// OpenClickHouse connects the reporting store.
func OpenClickHouse(cfg config.Config) (*sqlx.DB, error) {
	ch, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, pool(cfg.ClickHouse.DatabaseConfig))
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	return ch, nil
}

// New connects every configured store and builds the services. Close
// releases them in reverse order.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log, Loc: loc}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	if a.MySQL, err = OpenMySQL(cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.MySQL.Close)

	if cfg.ClickHouse.Enabled {
		if a.ClickHouse, err = OpenClickHouse(cfg); err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.ClickHouse.Close)
		a.Reports = repository.NewCHEventsRepository(a.ClickHouse)
	}

	a.Redis, err = db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	if a.Redis != nil {
		a.closers = append(a.closers, a.Redis.Close)
		a.Locker = lock.NewRedisLocker(a.Redis, log)
	} else {
		log.Info("redis not configured, scheduler locks are process-local")
		a.Locker = lock.NewLocalLocker()
	}

	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(a.kafkaConfig())
		a.closers = append(a.closers, p.Close)
		a.Publisher = events.NewKafkaPublisher(p, log)
	} else {
		a.Publisher = events.Noop{}
	}

	// repositories (MySQL)
	remindersRepo := repository.NewRemindersRepository(a.MySQL)
	logsRepo := repository.NewMessageLogsRepository(a.MySQL)
	rulesRepo := repository.NewRulesRepository(a.MySQL)
	schedulesRepo := repository.NewControlSchedulesRepository(a.MySQL)
	a.Users = repository.NewUsersRepository(a.MySQL)
	a.Patients = repository.NewPatientsRepository(a.MySQL)
	a.Services = repository.NewServicesRepository(a.MySQL)
	a.Appointments = repository.NewAppointmentsRepository(a.MySQL)

	// services
	a.Sender = dispatcher.NewAdapter(cfg.Provider.Dispatcher(), log)
	a.Rules = rules.NewService(rulesRepo, a.Services, log)
	a.Reminders = reminders.NewService(reminders.Deps{
		Reminders: remindersRepo,
		Patients:  a.Patients,
		Services:  a.Services,
		Logs:      logsRepo,
		Matcher:   rules.NewMatcher(rulesRepo),
		Sender:    a.Sender,
		Events:    a.Publisher,
		Log:       log,
	}, reminders.Options{
		BatchSize:    cfg.Scheduler.BatchSize,
		Concurrency:  cfg.Scheduler.Concurrency,
		BatchTimeout: cfg.Scheduler.BatchTimeout,
		ClaimTTL:     cfg.Scheduler.ClaimTTL,
		Location:     loc,
	})
	a.Controls = controls.NewService(schedulesRepo, a.Patients, a.Services, loc, cfg.Scheduler.BatchSize, log)
	a.Reconciler = webhook.NewReconciler(logsRepo, a.Publisher, log)

	return a, nil
}

func (a *App) kafkaConfig() kafka.Config {
	return kafka.Config{
		Brokers:        a.Cfg.Kafka.Brokers,
		Topic:          a.Cfg.Kafka.Topic,
		GroupID:        a.Cfg.Kafka.GroupID,
		MinBytes:       a.Cfg.Kafka.MinBytes,
		MaxBytes:       a.Cfg.Kafka.MaxBytes,
		CommitInterval: a.Cfg.Kafka.CommitInterval,
	}
}

// Server builds the HTTP API.
func (a *App) Server() *httpSrv.Server {
	return httpSrv.NewServer(httpSrv.Deps{
		Users:        a.Users,
		Reminders:    a.Reminders,
		Rules:        a.Rules,
		Controls:     a.Controls,
		Appointments: a.Appointments,
		Webhook:      a.Reconciler,
		Reports:      a.Reports,
		Log:          a.Log,
	})
}

// RemindersScheduler runs the due-reminder poller on scheduler.reminders.
func (a *App) RemindersScheduler() (*scheduler.Scheduler, error) {
	return a.schedule("reminders", a.Cfg.Scheduler.Reminders, func(ctx context.Context) error {
		sum, err := a.Reminders.ProcessDue(ctx)
		if sum.Scanned > 0 {
			a.Log.Info("reminders pass",
				zap.Int("scanned", sum.Scanned),
				zap.Int("sent", sum.Sent),
				zap.Int("failed", sum.Failed),
				zap.Int("skipped", sum.Skipped),
				zap.Int("deferred", sum.Deferred))
		}
		return err
	})
}

// ControlsScheduler materializes recurring control appointments on
// scheduler.controls.
func (a *App) ControlsScheduler() (*scheduler.Scheduler, error) {
	return a.schedule("controls", a.Cfg.Scheduler.Controls, func(ctx context.Context) error {
		sum, err := a.Controls.Advance(ctx)
		if sum.Created > 0 || sum.Errors > 0 {
			a.Log.Info("controls pass",
				zap.Int("scanned", sum.Scanned),
				zap.Int("created", sum.Created),
				zap.Int("errors", sum.Errors))
		}
		return err
	})
}

func (a *App) schedule(name, spec string, job scheduler.Job) (*scheduler.Scheduler, error) {
	return scheduler.New(name, spec, job,
		scheduler.WithLogger(a.Log),
		scheduler.WithLocker(a.Locker, a.Cfg.Scheduler.LockTTL),
	)
}

// Archiver builds the Kafka to ClickHouse event copier. Both stores must be
// enabled.
func (a *App) Archiver() (*worker.Archiver, error) {
	if !a.Cfg.Kafka.Enabled || a.Reports == nil {
		return nil, errors.New("archiver needs kafka.enabled and clickhouse.enabled")
	}
	c := kafka.NewConsumer(a.kafkaConfig())
	a.closers = append(a.closers, c.Close)
	arc := worker.NewArchiver(c, a.Reports, a.Log)
	if a.Cfg.Kafka.BatchSize > 0 {
		arc.BatchSize = a.Cfg.Kafka.BatchSize
	}
	if a.Cfg.Kafka.BatchWait > 0 {
		arc.BatchWait = a.Cfg.Kafka.BatchWait
	}
	return arc, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
