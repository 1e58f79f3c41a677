package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/corpai/tggateway/internal/async"
	"github.com/corpai/tggateway/internal/bots"
	"github.com/corpai/tggateway/internal/cache"
	"github.com/corpai/tggateway/internal/channel/adapters/telegram"
	"github.com/corpai/tggateway/internal/config"
	"github.com/corpai/tggateway/internal/db"
	"github.com/corpai/tggateway/internal/db/queries"
	"github.com/corpai/tggateway/internal/forwarder"
	"github.com/corpai/tggateway/internal/handlers"
	"github.com/corpai/tggateway/internal/logger"
	"github.com/corpai/tggateway/internal/metrics"
	"github.com/corpai/tggateway/internal/projects"
	"github.com/corpai/tggateway/internal/schedule"
	"github.com/corpai/tggateway/internal/secrets"
	"github.com/corpai/tggateway/internal/server"
	"github.com/corpai/tggateway/internal/staging"
	"github.com/corpai/tggateway/internal/webhook"
)

const detachedTimeout = 30 * time.Second

func runServe(cfg config.Config) {
	fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideDBConn,
			provideDBQueries,
			provideCache,
			provideCipher,
			provideBotService,
			provideProjectService,
			provideStaging,
			provideAdapter,
			metrics.New,
			provideForwarder,
			provideRunner,
			provideRouter,
			provideSweeper,
			providePingHandler,
			provideTelegramHandler,
			provideConstructorHandler,
			provideBotsHandler,
			provideAccountHandler,
			provideMetricsHandler,
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideDBQueries(conn *pgxpool.Pool) *queries.Queries { return queries.New(conn) }

func provideCache(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (cache.Store, error) {
	if !cfg.Redis.Enabled {
		log.Warn("redis disabled, using in-process cache")
		return cache.NewMemoryStore(), nil
	}
	client, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		OnStop:  func(ctx context.Context) error { return client.Close() },
	})
	return cache.NewRedisStore(client), nil
}

func provideCipher(cfg config.Config) (*secrets.Cipher, error) {
	return secrets.NewCipher(cfg.Secrets.Key)
}

func provideBotService(log *slog.Logger, q *queries.Queries, store cache.Store, cipher *secrets.Cipher, cfg config.Config) *bots.Service {
	return bots.NewService(log, q, store, cipher, config.Duration(cfg.Cache.TTL, config.DefaultCacheTTL))
}

func provideProjectService(log *slog.Logger, q *queries.Queries, store cache.Store, cfg config.Config) *projects.Service {
	return projects.NewService(log, q, store, config.Duration(cfg.Cache.SessionTTL, config.DefaultSessionTTL))
}

func provideStaging(store cache.Store, cfg config.Config) *staging.Cache {
	return staging.New(store, config.Duration(cfg.Cache.StagingTTL, config.DefaultStagingTTL))
}

func provideAdapter(log *slog.Logger, cfg config.Config) *telegram.Adapter {
	return telegram.NewAdapter(log, cfg.Telegram)
}

func provideForwarder(log *slog.Logger, cfg config.Config, m *metrics.Metrics) *forwarder.Client {
	return forwarder.NewClient(log, cfg.Integration, m)
}

func provideRunner(lc fx.Lifecycle, log *slog.Logger) *async.Runner {
	r := async.NewRunner(log, detachedTimeout)
	lc.Append(fx.Hook{OnStop: r.Wait})
	return r
}

func provideRouter(log *slog.Logger, botService *bots.Service, projectService *projects.Service, adapter *telegram.Adapter, fw *forwarder.Client, stage *staging.Cache, store cache.Store, runner *async.Runner, m *metrics.Metrics) *webhook.Router {
	return webhook.NewRouter(log, webhook.Dependencies{
		Bots:      botService,
		Projects:  projectService,
		Messenger: adapter,
		Forwarder: fw,
		Staging:   stage,
		Cache:     store,
		Tasks:     runner,
		Metrics:   m,
		Now:       fw.Now,
	})
}

func provideSweeper(log *slog.Logger, botService *bots.Service, cfg config.Config) *schedule.Sweeper {
	retention := config.Duration(cfg.Invites.Retention, config.DefaultInviteRetention)
	spec := cfg.Invites.Sweep
	if spec == "" {
		spec = config.DefaultInviteSweep
	}
	return schedule.NewSweeper(log, botService, spec, retention)
}

func providePingHandler(log *slog.Logger, conn *pgxpool.Pool, store cache.Store) *handlers.PingHandler {
	return handlers.NewPingHandler(log,
		handlers.HealthCheck{Name: "postgres", Check: conn.Ping},
		handlers.HealthCheck{Name: "cache", Check: store.Ping},
	)
}

func provideTelegramHandler(log *slog.Logger, router *webhook.Router, cfg config.Config) *handlers.TelegramHandler {
	return handlers.NewTelegramHandler(log, router, cfg.Telegram.WebhookSecret)
}

func provideConstructorHandler(log *slog.Logger, botService *bots.Service, adapter *telegram.Adapter, router *webhook.Router, cfg config.Config) *handlers.ConstructorHandler {
	path := cfg.Schema.Path
	if path == "" {
		path = config.DefaultSchemaPath
	}
	return handlers.NewConstructorHandler(log, botService, adapter, router, path)
}

func provideBotsHandler(log *slog.Logger, botService *bots.Service, projectService *projects.Service, adapter *telegram.Adapter, cfg config.Config) *handlers.BotsHandler {
	return handlers.NewBotsHandler(log, botService, projectService, adapter, cfg.Server.PublicURL, cfg.Telegram.WebhookSecret)
}

func provideAccountHandler(log *slog.Logger, fw *forwarder.Client) *handlers.AccountHandler {
	return handlers.NewAccountHandler(log, fw)
}

func provideMetricsHandler(log *slog.Logger, m *metrics.Metrics, cfg config.Config) *handlers.MetricsHandler {
	path := cfg.Metrics.JobsPath
	if path == "" {
		path = config.DefaultJobsPath
	}
	return handlers.NewMetricsHandler(log, m, metrics.NewJobStore(path))
}

type serverParams struct {
	fx.In
	Logger      *slog.Logger
	Config      config.Config
	Metrics     *metrics.Metrics
	Ping        *handlers.PingHandler
	Telegram    *handlers.TelegramHandler
	Constructor *handlers.ConstructorHandler
	Bots        *handlers.BotsHandler
	Account     *handlers.AccountHandler
	MetricsAPI  *handlers.MetricsHandler
}

func provideServer(p serverParams) *server.Server {
	return server.NewServer(p.Logger, p.Config.Server.Addr, p.Config.Auth.JWTSecret, p.Metrics,
		p.Ping, p.Telegram, p.Constructor, p.Bots, p.Account, p.MetricsAPI)
}

func startSweeper(lc fx.Lifecycle, sweeper *schedule.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return sweeper.Start() },
		OnStop:  sweeper.Stop,
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
