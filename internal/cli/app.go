package cli

import (
	"log/slog"
	"os"

	"github.com/roach88/runlog/internal/config"
	"github.com/roach88/runlog/internal/query"
	"github.com/roach88/runlog/internal/store"
	"github.com/roach88/runlog/internal/tools"
)

// app is the wired read side: store, query engine and tool surface.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	engine  *query.Engine
	surface *tools.Surface
}

// openApp loads configuration, configures logging and opens the store.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}

	logger := newLogger(cfg, opts.Verbose)
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path,
		store.WithReadConns(cfg.Store.ReadConns),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	engine := query.New(st,
		query.WithTimeout(cfg.Query.Timeout),
		query.WithMaxDepth(cfg.Query.MaxDepth),
		query.WithPageSizes(cfg.Query.DefaultPageSize, cfg.Query.MaxPageSize),
		query.WithMaxSequenceNodes(cfg.Query.MaxSequenceNodes),
		query.WithLogger(logger),
	)
	surface, err := tools.New(engine,
		tools.WithLogger(logger),
		tools.WithMaxPageSize(cfg.Query.MaxPageSize),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build tool catalogue", err)
	}

	return &app{cfg: cfg, logger: logger, store: st, engine: engine, surface: surface}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// newLogger writes text logs to stderr so stdout carries only results.
func newLogger(cfg config.Config, verbose bool) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
