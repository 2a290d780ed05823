package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/starford/codex/internal/cms"
	"github.com/starford/codex/internal/engine"
	"github.com/starford/codex/internal/storage"
	"github.com/starford/codex/internal/undolog"
	"github.com/starford/codex/internal/urlindex"
)

// components is the assembled content stack shared by the server and the
// maintenance commands.
type components struct {
	cfg     *Config
	logger  *slog.Logger
	backend storage.Backend
	store   *storage.Store
	index   *urlindex.Index
	undo    *undolog.Log
	engine  *engine.Engine
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger returns the structured JSON logger and installs it as default.
func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// badgerLogger returns the logrus logger handed to the badger driver,
// levelled like the application logger.
func badgerLogger(w io.Writer, level slog.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	switch {
	case level <= slog.LevelDebug:
		l.SetLevel(logrus.DebugLevel)
	case level <= slog.LevelInfo:
		l.SetLevel(logrus.InfoLevel)
	case level <= slog.LevelWarn:
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetLevel(logrus.ErrorLevel)
	}
	return l
}

// open assembles storage, URL index, undo log and engine.
func (a *application) open(ctx context.Context, logger *slog.Logger) (*components, error) {
	cfg := a.config

	opts := cfg.Storage.Options()
	opts.BadgerLog = badgerLogger(a.logOutput, cfg.App.LogLevel)
	backend, err := storage.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	store, err := storage.NewStore(backend,
		storage.WithCacheSize(cfg.Storage.CacheSize),
		storage.WithLogger(logger),
	)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	undo, err := undolog.New(store,
		undolog.WithRotateThreshold(cfg.UndoLog.RotateThreshold),
		undolog.WithLogger(logger),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init undo log: %w", err)
	}

	index := urlindex.New(store, logger)
	return &components{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store:   store,
		index:   index,
		undo:    undo,
		engine:  engine.New(store, index, undo, engine.WithLogger(logger)),
	}, nil
}

// service builds the content service over the components.
func (c *components) service(reg prometheus.Registerer, opts ...cms.Option) *cms.Service {
	opts = append(opts, cms.WithLogger(c.logger))
	if reg != nil {
		opts = append(opts, cms.WithMetrics(cms.NewMetrics(reg)))
	}
	return cms.NewService(c.store, c.index, c.engine, opts...)
}

func (c *components) Close() error {
	return errors.Join(c.undo.Close(), c.store.Close())
}
