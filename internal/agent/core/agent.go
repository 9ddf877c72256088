// Package core assembles the agent runtime: it opens local storage, builds
// every component that backs a subagent capability, fills the capability
// table and drives startup and shutdown.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/beacon/internal/agent/actions"
	"github.com/felixgeelhaar/beacon/internal/agent/datacoll"
	"github.com/felixgeelhaar/beacon/internal/agent/events"
	"github.com/felixgeelhaar/beacon/internal/agent/logwriter"
	"github.com/felixgeelhaar/beacon/internal/agent/notify"
	"github.com/felixgeelhaar/beacon/internal/agent/problems"
	"github.com/felixgeelhaar/beacon/internal/agent/screen"
	"github.com/felixgeelhaar/beacon/internal/agent/session"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database/postgres"
	_ "github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/workerpool"
	"github.com/felixgeelhaar/beacon/internal/subagent/builtin/sysinfo"
	"github.com/felixgeelhaar/beacon/internal/subagent/registry"
	"github.com/felixgeelhaar/beacon/internal/subagent/sdk"
	"github.com/felixgeelhaar/beacon/pkg/config"
	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// LoopbackAddress is the address of the in-process session that receives
// notifications when no broker is configured.
const LoopbackAddress = "local"

// outboxMaxLag is the delivery lag above which health degrades.
const outboxMaxLag = 5 * time.Minute

// Agent holds every core component.
type Agent struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.PrometheusMetrics
	Health  *observability.HealthRegistry

	// Infrastructure
	DB          database.Connection
	RedisClient *redis.Client
	Publisher   eventbus.Publisher
	Pool        *workerpool.Pool
	OutboxRepo  outbox.Repository
	Outbox      *outbox.Processor

	// Capability providers
	LogWriter     *logwriter.Writer
	Sessions      *session.Registry
	Events        *events.Poster
	Notifications *notify.Queue
	Data          *datacoll.Pusher
	Problems      *problems.Registry
	Actions       *actions.Executor
	Screens       *screen.Registry

	Subagents *registry.Registry

	// Loopback is set when notifications are delivered in-process.
	Loopback *session.CommSession

	bridge    *sdk.Bridge
	cancel    context.CancelFunc
	pumps     sync.WaitGroup
	closeOnce sync.Once
}

// NewAgent builds the agent from cfg. Optional backends that cannot be
// reached fall back to local implementations outside production.
func NewAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewPrometheusMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
		DataDir:    cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	a.DB = conn

	applied, err := migrations.Run(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate local database: %w", err)
	}
	logger.Info("local database ready",
		"driver", conn.Driver().String(),
		"migrations_applied", len(applied),
	)

	a.Pool = workerpool.New(workerpool.Config{
		Name:      "main",
		Workers:   cfg.PoolWorkers,
		QueueSize: cfg.PoolQueueSize,
	}, logger).WithMetrics(a.Metrics)

	a.LogWriter = logwriter.New(logger, cfg.DebugLevel)
	a.Sessions = session.NewRegistry(cfg.MaxSessions, logger).WithMetrics(a.Metrics)
	a.OutboxRepo = outbox.NewSQLRepository(conn)
	a.Notifications = notify.NewQueue(a.OutboxRepo, logger).WithMetrics(a.Metrics)
	a.Events = events.NewPoster(a.Notifications, logger).WithMetrics(a.Metrics)
	a.Data = datacoll.NewPusher(a.valueStore(ctx), logger).WithMetrics(a.Metrics)
	a.Problems = problems.NewRegistry(problems.NewSQLRepository(conn), logger).WithMetrics(a.Metrics)
	a.Screens = screen.NewRegistry()

	actionCfg := actions.DefaultConfig()
	actionCfg.AllowShellCommands = cfg.AllowShellActions
	actionCfg.Timeout = cfg.ActionTimeout
	a.Actions = actions.NewExecutor(actionCfg, a.Pool, logger).WithMetrics(a.Metrics)
	a.registerBuiltinActions()

	if err := a.setupPublisher(); err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	a.Outbox = outbox.NewProcessor(a.OutboxRepo, a.Publisher, outbox.ProcessorConfig{
		PollInterval:     cfg.OutboxPollInterval,
		BatchSize:        cfg.OutboxBatchSize,
		MaxRetries:       cfg.OutboxMaxRetries,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  5 * time.Minute,
		Retention:        time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour,
		CleanupInterval:  cfg.OutboxCleanupInterval,
	}, logger).WithMetrics(a.Metrics)

	a.Subagents = registry.NewRegistry(logger).WithMetrics(a.Metrics)
	if err := a.Subagents.Register(sysinfo.New(cfg.SysinfoInterval, cfg.SysinfoGoroutineHi)); err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	a.registerHealthChecks()
	a.bridge = sdk.Initialize(a.Capabilities())
	return a, nil
}

// valueStore picks Redis when configured and reachable.
func (a *Agent) valueStore(ctx context.Context) datacoll.ValueStore {
	if a.Config.RedisURL == "" {
		return datacoll.NewMemoryStore()
	}
	opt, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		a.Logger.Warn("invalid Redis URL, pushed values kept in memory", "error", err)
		return datacoll.NewMemoryStore()
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		a.Logger.Warn("Redis not available, pushed values kept in memory", "error", err)
		return datacoll.NewMemoryStore()
	}
	a.RedisClient = client
	a.Logger.Info("connected to Redis")
	return datacoll.NewRedisStore(client, a.Config.PushTTL)
}

// setupPublisher connects to RabbitMQ when configured. Otherwise queued
// notifications go through an in-process bus to the session registry and a
// loopback session.
func (a *Agent) setupPublisher() error {
	if a.Config.RabbitMQURL != "" {
		host, _ := os.Hostname()
		publisher, err := eventbus.NewRabbitMQPublisher(eventbus.RabbitMQConfig{
			URL:      a.Config.RabbitMQURL,
			Exchange: a.Config.RabbitMQExchange,
			AppID:    host,
			Logger:   a.Logger,
		})
		if err == nil {
			a.Publisher = publisher
			return nil
		}
		if a.Config.IsProduction() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		a.Logger.Warn("RabbitMQ not available, delivering notifications in-process", "error", err)
	}

	bus := eventbus.NewInProcessBus(a.Logger)
	if err := bus.Register(a.Sessions.TrapHandler()); err != nil {
		return err
	}
	loopback, err := a.Sessions.Open(0, LoopbackAddress, true)
	if err != nil {
		return err
	}
	a.Loopback = loopback
	a.Publisher = bus
	return nil
}

func (a *Agent) registerBuiltinActions() {
	a.Actions.Register("Agent.SetDebugLevel", func(_ context.Context, args []string) error {
		if len(args) != 1 {
			return errors.New("usage: Agent.SetDebugLevel <0-9>")
		}
		var level int
		if _, err := fmt.Sscanf(args[0], "%d", &level); err != nil {
			return fmt.Errorf("invalid debug level %q", args[0])
		}
		a.LogWriter.SetDebugLevel(level)
		return nil
	})
	a.Actions.Register("Agent.NotifyConnected", func(_ context.Context, args []string) error {
		code := "agent"
		if len(args) > 0 {
			code = args[0]
		}
		a.Sessions.NotifyConnected(code)
		return nil
	})
}

func (a *Agent) registerHealthChecks() {
	a.Health.Register("database", observability.DatabaseHealthChecker(a.DB.Ping))
	a.Health.Register("problems", a.Problems.HealthChecker())
	if a.Config.OutboxProcessorEnabled {
		a.Health.Register("outbox", a.Outbox.HealthCheck(outboxMaxLag))
	}
	if a.RedisClient != nil {
		client := a.RedisClient
		a.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
	if hc, ok := a.Publisher.(eventbus.HealthChecker); ok {
		a.Health.Register("rabbitmq", observability.RabbitMQHealthChecker(hc.Check))
	}
}

// Capabilities returns the capability table backed by this agent.
func (a *Agent) Capabilities() sdk.Capabilities {
	return sdk.Capabilities{
		WriteLog: a.LogWriter.Write,

		PostEventFormatted:  a.Events.PostFormatted,
		PostEventPositional: a.Events.PostPositional,
		PostEventNamed:      a.Events.PostNamed,

		FindSession:       a.Sessions.FindByServerID,
		EnumerateSessions: a.Sessions.Enumerate,

		PushData:     a.Data.Push,
		LocalStorage: func() database.Connection { return a.DB },

		ExecuteAction: a.Actions.ExecuteAsync,
		ScreenInfo:    a.Screens.Get,

		QueueNotification: a.Notifications.Enqueue,

		RegisterProblem:   a.Problems.Register,
		UnregisterProblem: a.Problems.Unregister,

		DataDirectory: a.Config.DataDir,
		Scheduler:     a.Pool,
	}
}

// Bridge returns the bridge handed to subagents.
func (a *Agent) Bridge() *sdk.Bridge {
	return a.bridge
}

// Start runs the worker pool, the outbox processor and the loopback pump,
// then initializes the subagents.
func (a *Agent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Pool.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if a.Config.OutboxProcessorEnabled {
		if err := a.Outbox.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start outbox processor: %w", err)
		}
	}
	if a.Loopback != nil {
		a.pumps.Add(1)
		go func() {
			defer a.pumps.Done()
			a.Loopback.Pump(runCtx, a.logOutbound)
		}()
	}

	ready, err := a.Subagents.InitializeAll(a.bridge)
	if err != nil {
		return err
	}
	a.Logger.Info("agent started",
		"subagents_ready", ready,
		"capabilities", len(a.bridge.Configured()),
	)
	return nil
}

func (a *Agent) logOutbound(out session.Outbound) {
	attrs := []any{"code", fmt.Sprintf("%#04x", out.Code), "message_id", out.ID, "fields", len(out.Fields)}
	if raw, ok := out.Fields[sdk.FieldEventCode]; ok {
		attrs = append(attrs, "event_code", raw)
	}
	a.Logger.Info("notification delivered", attrs...)
}

// Close shuts down subagents and releases every resource. It is safe to
// call more than once.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if a.Subagents != nil {
			if err := a.Subagents.ShutdownAll(ctx); err != nil {
				a.Logger.Warn("error shutting down subagents", "error", err)
			}
		}
		if a.Outbox != nil {
			a.Outbox.Stop()
		}
		if a.Pool != nil {
			a.Pool.Stop()
		}
		if a.cancel != nil {
			a.cancel()
		}
		if a.Sessions != nil {
			a.Sessions.CloseAll()
		}
		a.pumps.Wait()
		a.closeInfrastructure()
		a.Logger.Info("agent stopped")
	})
}

func (a *Agent) closeInfrastructure() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("error closing event publisher", "error", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Warn("error closing Redis connection", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("error closing local database", "error", err)
		}
	}
}
