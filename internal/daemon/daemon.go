package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/hivehq/hive/internal/config"
	"github.com/hivehq/hive/internal/logger"
	"github.com/hivehq/hive/internal/observability"
	"github.com/hivehq/hive/internal/tracing"
	"github.com/hivehq/hive/pkg/convo"
	"github.com/hivehq/hive/pkg/dispatch"
	"github.com/hivehq/hive/pkg/engine"
	"github.com/hivehq/hive/pkg/provider"
	"github.com/hivehq/hive/pkg/runtime"
	"github.com/hivehq/hive/pkg/schedule"
	"github.com/hivehq/hive/pkg/session"
	"github.com/hivehq/hive/pkg/webhook"
)

// Daemon represents the hived service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store  session.Store
	log    *convo.Log
	client provider.Client
	router *dispatch.Router
	rt     *runtime.Runtime

	// Services
	triggerServer *webhook.Server
	scheduler     *schedule.Service

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("hived"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

// initializeCoreModules initializes stores, the provider client, and the runtime
func (d *Daemon) initializeCoreModules() error {
	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	store, err := newSessionStore(d.config.Session)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	d.store = store
	d.logger.Info().Str("backend", d.config.Session.Store).Msg("Session store initialized")

	convoLog, err := convo.NewLog(d.config.ConversationsDir())
	if err != nil {
		return fmt.Errorf("failed to create conversation log: %w", err)
	}
	d.log = convoLog
	d.logger.Info().Msg("Conversation log initialized")

	client, err := newProviderClient(d.config, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create provider client: %w", err)
	}
	d.client = client
	d.logger.Info().Str("provider", client.Name()).Msg("Provider client initialized")

	g, err := BuildGraph(d.config.Agent)
	if err != nil {
		return fmt.Errorf("failed to build agent graph: %w", err)
	}

	d.router = dispatch.NewRouter(d.config.Engine.DispatchQueueSize, d.logger.GetZerolog())
	d.logger.Info().Msg("Dispatch router initialized")

	rt, err := runtime.New(g, engine.Deps{
		Client: d.client,
		Log:    d.log,
		Judge:  engine.OutputsJudge{},
		Model: engine.ModelConfig{
			Model:       d.config.Model.Default,
			Temperature: d.config.Model.Temperature,
			MaxTokens:   d.config.Model.MaxTokens,
		},
		Backoff:           retryConfig(d.config.Retry),
		MaxNodeIterations: d.config.Engine.MaxNodeIterations,
		Logger:            d.logger.GetZerolog(),
	}, d.store, d.router, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	d.rt = rt
	d.logger.Info().Strs("nodes", g.Nodes()).Msg("Runtime initialized")

	return nil
}

// initializeServices initializes the trigger server and the scheduler
func (d *Daemon) initializeServices() error {
	if d.config.Webhook.Enabled {
		server, err := webhook.NewServer(webhook.ServerOptions{
			Port:               d.config.Webhook.Port,
			Host:               d.config.Webhook.Host,
			RegistryPath:       d.config.Webhook.RegistryPath,
			RateLimitPerMinute: d.config.Webhook.RateLimitPerMinute,
			TriggerTimeout:     time.Duration(d.config.Webhook.Timeout) * time.Second,
			WatchRegistry:      d.config.Webhook.WatchRegistry,
		}, d.rt, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to create trigger server: %w", err)
		}
		d.triggerServer = server
		d.logger.Info().Int("port", d.config.Webhook.Port).Msg("Trigger server initialized")
	}

	if d.config.Schedule.Enabled {
		scheduler, err := schedule.NewService(schedule.ServiceOptions{
			StorePath: d.config.Schedule.StorePath,
		}, d.rt, d.logger.GetZerolog())
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		d.scheduler = scheduler
		d.logger.Info().Int("jobs", len(scheduler.ListJobs())).Msg("Scheduler initialized")
	}

	return nil
}

func newSessionStore(cfg config.SessionConfig) (session.Store, error) {
	if cfg.Store == "sqlite" {
		return session.NewSQLiteStore(cfg.Path)
	}
	return session.NewFileStore(cfg.Path)
}

func newProviderClient(cfg *config.Config, log *logger.Logger) (provider.Client, error) {
	if len(cfg.AI.Profiles) == 0 {
		return nil, fmt.Errorf("no AI profiles configured")
	}

	profiles := make([]config.AIProfile, len(cfg.AI.Profiles))
	copy(profiles, cfg.AI.Profiles)
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	raw, err := provider.New(provider.Profile{
		Provider: profiles[0].Provider,
		APIKey:   profiles[0].APIKey,
	})
	if err != nil {
		return nil, err
	}

	return provider.NewRetryClient(raw, retryConfig(cfg.Retry), log.GetZerolog()), nil
}

func retryConfig(cfg config.RetryConfig) provider.RetryConfig {
	return provider.RetryConfig{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		BackoffFactor:  cfg.BackoffFactor,
		Jitter:         cfg.Jitter,
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting hived")

	if d.triggerServer != nil {
		// Start blocks in ListenAndServe; run it on its own goroutine.
		go func() {
			if err := d.triggerServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Trigger server stopped unexpectedly")
			}
		}()
		logger.Info().Msg("Trigger server started")
	}

	logger.Info().Msg("Daemon started successfully")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping hived")

	// No new triggers first, then drain the in-flight session.
	if d.triggerServer != nil {
		if err := d.triggerServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop trigger server")
		}
	}

	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop scheduler")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := d.rt.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Timeout waiting for active session to stop")
	}

	d.router.Close()
	d.cancel()

	if err := d.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
	}

	if d.tracingEnabled {
		traceCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(traceCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		if id, ok := d.rt.PrimarySessionID(); ok {
			status.ActiveSession = id
		}
	}

	return status
}

// Wait blocks until the daemon receives an interrupt or term signal
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetRuntime returns the execution runtime
func (d *Daemon) GetRuntime() *runtime.Runtime {
	return d.rt
}

// GetTriggerServer returns the trigger HTTP server
func (d *Daemon) GetTriggerServer() *webhook.Server {
	return d.triggerServer
}

// GetScheduler returns the scheduled trigger service
func (d *Daemon) GetScheduler() *schedule.Service {
	return d.scheduler
}

// GetSessionStore returns the session state store
func (d *Daemon) GetSessionStore() session.Store {
	return d.store
}

// Status represents daemon status
type Status struct {
	Running       bool
	Uptime        time.Duration
	StartTime     time.Time
	ActiveSession string
}
