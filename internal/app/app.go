// Package app wires configuration, storage and the pipeline services into
// one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/appforge/internal/api"
	"github.com/user/appforge/internal/codegen"
	"github.com/user/appforge/internal/config"
	"github.com/user/appforge/internal/ingest"
	"github.com/user/appforge/internal/metrics"
	"github.com/user/appforge/internal/recognize"
	"github.com/user/appforge/internal/state"
	"github.com/user/appforge/internal/state/sqlstore"
	"github.com/user/appforge/internal/synth"
	"github.com/user/appforge/internal/types"
)

// App holds the wired services of one process.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Metrics *metrics.Collector

	Sessions types.SessionStore
	Events   types.EventStore
	Patterns types.PatternStore
	Models   types.ModelStore

	Ingest     *ingest.Service
	Engine     *recognize.Engine
	Dispatcher *recognize.Dispatcher
	Synth      *synth.Service
	Codegen    *codegen.Service
	Limiter    *api.CallerLimiter

	closers []func() error
}

// New opens storage and builds the services. Closing a session recognizes
// it synchronously until Run switches recognition to the background
// dispatcher.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     logger,
		Metrics: metrics.NewCollector("appforge"),
	}
	if err := a.openStorage(); err != nil {
		return nil, err
	}

	var policy *recognize.ScoringPolicy
	if path := cfg.PolicyPath(); path != "" {
		p, err := recognize.LoadPolicy(path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load scoring policy: %w", err)
		}
		policy = p
	}

	a.Engine = recognize.NewEngine(a.Sessions, a.Events, a.Patterns, policy, logger, a.Metrics)
	a.Dispatcher = recognize.NewDispatcher(a.Engine, int64(cfg.Recognition.Workers), logger)
	a.Ingest = ingest.NewService(a.Sessions, a.Events, a.Patterns, logger, ingest.Options{
		MaxBatch: cfg.Ingest.MaxBatch,
		Metrics:  a.Metrics,
		OnClosed: a.recognizeNow,
	})
	a.Synth = synth.NewService(a.Sessions, a.Patterns, a.Models, logger, a.Metrics)
	a.Codegen = codegen.NewService(a.Models, cfg.Codegen.DefaultTarget, logger, a.Metrics)
	rl := cfg.HTTP.RateLimit
	a.Limiter = api.NewCallerLimiter(rl.RequestsPerSecond, rl.Burst, rl.IdleTTL)
	return a, nil
}

func (a *App) openStorage() error {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := sqlstore.Open(cfg.SQLiteDSN(), a.Log)
		if err != nil {
			return fmt.Errorf("open sqlite storage: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Sessions, a.Events, a.Patterns, a.Models = db.Sessions(), db.Events(), db.Patterns(), db.Models()
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		a.Sessions = state.NewSessionStore(cfg.DataDir)
		a.Events = state.NewEventStore(cfg.DataDir)
		a.Patterns = state.NewPatternStore(cfg.DataDir)
		a.Models = state.NewModelStore(cfg.DataDir)
	}
	a.Log.Debug("storage opened", zap.String("driver", cfg.Storage.Driver))
	return nil
}

func (a *App) recognizeNow(ctx context.Context, id types.SessionID) {
	if _, err := a.Engine.Recognize(ctx, id); err != nil {
		a.Log.Error("recognition after close failed", zap.String("session_id", string(id)), zap.Error(err))
	}
}

// Close releases storage handles.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Server builds the HTTP API over the app's services.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Deps{
		Ingest:  a.Ingest,
		Engine:  a.Engine,
		Models:  a.Synth,
		Codegen: a.Codegen,
		Limiter: a.Limiter,
		Metrics: a.Metrics,
	}, api.Options{CORSOrigins: a.Config.HTTP.CORSOrigins}, a.Log)
}

// Run serves the HTTP API with background recognition, the maintenance
// scheduler and, when configured, the policy file watcher. It returns once
// ctx is done and everything has shut down.
func (a *App) Run(ctx context.Context) error {
	sched, err := a.Scheduler()
	if err != nil {
		return err
	}

	a.Dispatcher.Start(ctx)
	defer a.Dispatcher.Stop()
	a.Ingest.SetOnClosed(a.Dispatcher.OnSessionClosed)
	defer a.Ingest.SetOnClosed(a.recognizeNow)

	sched.Start()
	defer sched.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if path := a.Config.PolicyPath(); path != "" && a.Config.Recognition.WatchPolicy {
		w, err := recognize.NewPolicyWatcher(path, a.Engine, a.Log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return a.Server().ListenAndServe(ctx, a.Config.HTTP.Listen)
	})

	a.Log.Info("appforge started",
		zap.String("listen", a.Config.HTTP.Listen),
		zap.String("storage", a.Config.Storage.Driver),
		zap.String("data_dir", a.Config.DataDir),
		zap.String("policy", a.Engine.Policy().Ref()),
		zap.Int("workers", a.Config.Recognition.Workers),
	)
	return g.Wait()
}
