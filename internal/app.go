// Package internal provides the App struct that wires every duealert
// component together and hands the result to the CLI layer.
package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/valter-silva-au/duealert/internal/api"
	"github.com/valter-silva-au/duealert/internal/cli"
	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/internal/integration"
	"github.com/valter-silva-au/duealert/internal/observability"
	"github.com/valter-silva-au/duealert/internal/storage"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// EventLogFileName is the JSONL event log kept in the base path.
const EventLogFileName = ".duealert_events.jsonl"

// agentRetry is how often the daemon retries an unreachable agent.
const agentRetry = 5 * time.Second

// App holds all service dependencies for duealert.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config
	Logger    *logrus.Logger

	// Observability
	EventLog    observability.EventLog
	Recorder    *observability.Recorder
	MetricsCalc observability.MetricsCalculator
	AlertEngine observability.AlertEngine

	// Storage layer
	Store core.ActionStore
	Due   storage.DueBacklog

	// Integration services
	CapabilityFile *integration.CapabilityFile
	Credentials    *integration.Credentials
	Banner         *integration.TerminalBanner
	Desktop        *integration.DesktopNotifier
	Agent          *integration.AgentClient
	Replayer       *integration.HTTPReplayer
	Redis          *redis.Client

	// Core
	Bus          *core.EventBus
	Connectivity *core.ConnectivityMonitor
	Engine       *core.Engine
}

// NewApp creates and wires all components. basePath is the directory holding
// .duealert.yaml and the default data files.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	app.Logger, err = observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(basePath, EventLogFileName))
	if err != nil {
		// Non-fatal: run without metrics if the log can't be created.
		app.Logger.WithError(err).Warn("event log disabled")
		app.EventLog = nil
	}
	var events core.EventLogger
	if app.EventLog != nil {
		app.Recorder = observability.NewRecorder(app.EventLog)
		events = app.Recorder
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.DefaultAlertThresholds())
	}

	// --- Storage layer ---
	app.Store, err = storage.OpenActionStore(cfg.Queue.DSN)
	if err != nil {
		app.closeEventLog()
		return nil, fmt.Errorf("opening action store: %w", err)
	}
	app.Due = storage.NewDueBacklog(cfg.Due.File)

	// --- Integration services ---
	app.CapabilityFile = integration.NewCapabilityFile(cfg.Capability.File)
	app.Credentials = integration.NewCredentials()
	app.Banner = integration.NewTerminalBanner(os.Stderr)
	app.Desktop = integration.NewDesktopNotifier(app.Logger)
	if cfg.Agent.URL != "" {
		app.Agent = integration.NewAgentClient(cfg.Agent.URL, app.Logger)
	}
	if cfg.Backend.URL != "" {
		tokenKey := cfg.Backend.TokenKey
		app.Replayer = integration.NewHTTPReplayer(cfg.Backend.URL, cfg.Backend.Timeout, func() (string, error) {
			return app.Credentials.Token(tokenKey)()
		})
	}

	// --- Core ---
	app.Bus = core.NewEventBus()
	app.Connectivity = core.NewConnectivityMonitor(true)

	opts := core.EngineOptions{
		Source:           app.Due,
		Platform:         app.Desktop,
		Banner:           app.Banner,
		Prompter:         integration.NewPrompter(cfg.Capability.Mode, app.CapabilityFile),
		Store:            app.Store,
		Bus:              app.Bus,
		Connectivity:     app.Connectivity,
		Logger:           app.Logger,
		Events:           events,
		ScanInterval:     cfg.Scanner.Interval,
		ScanInitialDelay: cfg.Scanner.InitialDelay,
		ScanWindow:       cfg.Scanner.Window,
		AgentTimeout:     cfg.Delivery.AgentTimeout,
		Expiry:           expiryPolicy(cfg),
		MaxAttemptsWarn:  cfg.Queue.MaxAttemptsWarn,
		// The daemon starts the scanner itself; one-shot commands never do.
		ManualScan: true,
	}
	if app.Agent != nil {
		opts.Agent = app.Agent
	}
	if app.Replayer != nil {
		opts.Replayer = app.Replayer
	}
	app.Engine, err = core.NewEngine(context.Background(), opts)
	if err != nil {
		_ = app.Store.Close()
		app.closeEventLog()
		return nil, err
	}
	if app.Agent != nil {
		engine := app.Engine
		log := app.Logger
		app.Agent.OnMessage(func(msg models.AgentMessage) {
			if err := engine.HandleAgentMessage(msg); err != nil {
				log.WithError(err).WithField("type", string(msg.Type)).Warn("agent message rejected")
			}
		})
	}

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Config = cfg
	cli.Engine = app.Engine
	cli.Due = app.Due
	cli.Capability = app.CapabilityFile
	cli.Credentials = app.Credentials
	cli.EventLog = app.EventLog
	cli.MetricsCalc = app.MetricsCalc
	cli.AlertEngine = app.AlertEngine
	cli.RunDaemon = app.Run
	cli.RunAgent = app.RunAgent

	return app, nil
}

// capabilityGranted reads the persisted capability. The agent has no prompt
// of its own.
func (a *App) capabilityGranted() bool {
	state, err := a.CapabilityFile.Load()
	return err == nil && state == models.CapabilityGranted
}

func expiryPolicy(cfg *models.Config) core.ExpiryPolicy {
	return core.ExpiryPolicy{
		Low:    cfg.Delivery.BannerExpiryLow,
		Medium: cfg.Delivery.BannerExpiryMedium,
	}
}

// Run is the long-running engine process: it connects to the agent, watches
// connectivity and the capability file, bridges the bus over Redis, starts
// the scanner and serves the host API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config
	log := a.Logger
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if a.Agent != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Agent.Run(ctx, agentRetry)
		}()
	}

	if cfg.Network.ProbeAddr != "" {
		probe := integration.NewNetworkProbe(cfg.Network.ProbeAddr, cfg.Network.ProbeInterval)
		a.Connectivity.Report(probe.Check(ctx))
		wg.Add(1)
		go func() {
			defer wg.Done()
			probe.Run(ctx, a.Connectivity)
		}()
	}

	watcher, err := integration.WatchCapability(a.CapabilityFile, a.Engine.Gatekeeper().Reevaluate, log)
	if err != nil {
		log.WithError(err).Warn("capability changes will need a restart")
	} else {
		defer watcher.Close()
	}

	if cfg.Bus.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Bus.RedisAddr})
		bridge := integration.NewRedisBridge(a.Redis, cfg.Bus.RedisChannel, log)
		a.Bus.SetBridge(bridge)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx, a.Bus); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("event bridge stopped")
			}
		}()
	}

	a.Desktop.OnAction(func(tag string, action models.AlertActionType) {
		if err := a.Engine.Interact(tag, action); err != nil {
			log.WithError(err).WithField("tag", tag).Warn("notification action rejected")
		}
	})

	if err := a.Engine.Init(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	a.Engine.Scanner().Start(ctx)

	if cfg.API.Listen == "" {
		<-ctx.Done()
		return nil
	}
	return api.NewServer(a.Engine, log).ListenAndServe(ctx, cfg.API.Listen)
}

// RunAgent serves the background delivery agent until ctx is cancelled.
// While no engine is connected it keeps alerting from the due items the
// engine last cached with it.
func (a *App) RunAgent(ctx context.Context) error {
	cfg := a.Config
	log := a.Logger
	server := integration.NewAgentServer(integration.AgentServerOptions{
		Notifier: a.Desktop,
		Expiry:   expiryPolicy(cfg),
		Flush: func(ctx context.Context) error {
			_, err := a.Engine.Flush(ctx)
			return err
		},
		Logger: log,
	})
	defer server.Wait()

	chain := core.NewDeliveryChain(core.ChainOptions{
		Channels: []core.Channel{core.NewPlatformChannel(a.Desktop, a.capabilityGranted)},
		Expiry:   expiryPolicy(cfg),
		Logger:   log.WithField("component", "agent-chain"),
	})
	a.Desktop.OnAction(func(tag string, action models.AlertActionType) {
		chain.Dismiss(tag)
		if err := server.ReportAction(tag, action); err != nil {
			log.WithError(err).WithField("tag", tag).Warn("notification action not delivered to an engine")
		}
	})
	scanner := core.NewScanner(core.ScannerOptions{
		Source:       server.CacheSource(),
		Deliverer:    chain,
		Interval:     cfg.Scanner.Interval,
		InitialDelay: cfg.Scanner.InitialDelay,
		Window:       cfg.Scanner.Window,
		Logger:       log.WithField("process", "agent"),
	})
	scanner.Start(ctx)
	defer scanner.Stop()

	mux := http.NewServeMux()
	mux.Handle("/agent", server)
	srv := &http.Server{
		Addr:              a.Config.Agent.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.WithField("addr", srv.Addr).Info("background agent listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving agent: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close disposes the engine and releases the agent connection, the Redis
// client and the event log. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.Engine != nil {
		if err := a.Engine.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Agent != nil {
		if err := a.Agent.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Desktop != nil {
		if err := a.Desktop.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
		a.Redis = nil
	}
	a.closeEventLog()
	return errors.Join(errs...)
}

func (a *App) closeEventLog() {
	if a.EventLog != nil {
		_ = a.EventLog.Close()
		a.EventLog = nil
	}
}

// ResolveBasePath determines the duealert data directory: DUEALERT_HOME,
// then the nearest ancestor holding .duealert.yaml, then the current
// directory.
func ResolveBasePath() string {
	if home := os.Getenv("DUEALERT_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for d := dir; ; {
		if _, err := os.Stat(filepath.Join(d, core.ConfigFileName+".yaml")); err == nil {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	return dir
}
