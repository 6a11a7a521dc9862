// Package internal provides the App struct that wires all components of the
// tasksync engine together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"tasksync/internal/cli"
	"tasksync/internal/core"
	"tasksync/internal/observability"
	"tasksync/internal/remote"
	"tasksync/internal/storage"
	"tasksync/pkg/models"
)

// App holds all service dependencies for the tasksync engine.
type App struct {
	BasePath string
	Config   *models.Config

	// Storage layer
	KV    storage.KeyValueStore
	Cache storage.CacheStore
	Queue storage.OperationQueue

	// Remote layer
	API     remote.TaskAPI
	Monitor remote.ConnectivityMonitor

	// Core services
	Optimistic   *core.OptimisticController
	Orchestrator *core.SyncOrchestrator
	Poller       *core.StatusPoller
	Engine       *core.Engine

	// Observability
	EventLog    observability.EventLog
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components of the tasksync engine. basePath
// is the directory holding the local store, the operation queue, and the
// event log (typically the directory containing .tasksyncrc).
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	cfg, err := core.NewConfigurationManager(basePath).Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	app.Config = cfg

	// --- Storage layer ---
	switch cfg.StorageBackend {
	case "sqlite":
		app.KV, err = storage.NewSQLiteKVStore(basePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
	default:
		app.KV = storage.NewFileKVStore(basePath)
	}
	app.Cache = storage.NewCacheStore(app.KV, cfg.CacheTTL)
	app.Queue = storage.NewOperationQueue(app.KV)

	// --- Remote layer ---
	app.API = remote.NewClient(cfg.APIBaseURL, cfg.APIToken)
	app.Monitor = remote.NewConnectivityMonitor(cfg.ProbeAddr)

	// --- Observability ---
	eventLogPath := filepath.Join(basePath, ".tasksync_events.jsonl")
	app.EventLog, err = observability.NewJSONLEventLog(eventLogPath)
	if err != nil {
		// Non-fatal: the engine runs without an event log, metrics are
		// just unavailable.
		app.EventLog = observability.NopEventLog()
	} else {
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.SlackWebhookURL != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.SlackWebhookURL)
	} else {
		app.Notifier = observability.NewStderrNotifier()
	}

	// --- Core services ---
	app.Optimistic = core.NewOptimisticController(app.Cache, app.Queue, app.EventLog)
	app.Orchestrator = core.NewSyncOrchestrator(
		app.Cache, app.Queue, app.API, app.Optimistic,
		app.EventLog, app.Notifier, cfg.RetryCeiling,
	)
	app.Poller = core.NewStatusPoller(app.Cache, app.API, app.EventLog, cfg.PollInterval)
	app.Engine = core.NewEngine(
		app.Cache, app.Queue, app.Optimistic,
		app.Orchestrator, app.Poller, app.Monitor, app.EventLog,
	)

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.Engine = app.Engine
	cli.Poller = app.Poller
	cli.EventLog = app.EventLog
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// Close releases resources held by the App: the status poller, the event
// log file handle, and the storage backend.
func (a *App) Close() error {
	if a.Poller != nil {
		a.Poller.Stop()
	}
	var firstErr error
	if a.EventLog != nil {
		if err := a.EventLog.Close(); err != nil {
			firstErr = err
		}
	}
	if a.KV != nil {
		if err := a.KV.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ResolveBasePath determines the directory holding the local tasksync data.
// It checks the TASKSYNC_HOME env var, then walks up from the current
// directory looking for a .tasksyncrc, and finally falls back to cwd.
func ResolveBasePath() string {
	if home := os.Getenv("TASKSYNC_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".tasksyncrc")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}
