package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ajramos/quickreply/internal/config"
	"github.com/ajramos/quickreply/internal/db"
	"github.com/ajramos/quickreply/internal/llm"
	"github.com/ajramos/quickreply/internal/logger"
	"github.com/ajramos/quickreply/internal/metrics"
	"github.com/ajramos/quickreply/internal/services"
	"github.com/ajramos/quickreply/internal/store"
	"go.uber.org/zap"
)

// app wires configuration, logging, storage and the controller registry for
// one command invocation.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	reg     *services.Registry
	ctrl    *services.Controller
}

func newApp(ctx context.Context, configPath, account string, out io.Writer) (*app, error) {
	cfg, err := config.LoadConfig(getConfigPath(configPath))
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var m *metrics.Collector
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	translator, err := newTranslator(ctx, cfg, m, log)
	if err != nil {
		log.Warn("translation disabled", zap.Error(err))
		translator = nil
	}

	reg, err := services.NewRegistry(services.Dependencies{
		DataDir:    cfg.DataDir,
		Backends:   backendsFor(cfg),
		Surface:    services.NewWriterSurface(out),
		Translator: translator,
		Logger:     log,
		Metrics:    m,
		Defaults: services.ConfigDefaults{
			TargetLanguage:   cfg.Translation.TargetLanguage,
			TranslationStyle: cfg.Translation.Style,
		},
	})
	if err != nil {
		return nil, err
	}

	if account == "" {
		account = cfg.DefaultAccount
	}
	ctrl, err := reg.Open(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to open account %q: %w", account, err)
	}
	log.Debug("account opened", zap.String("account", account), zap.String("backend", cfg.Storage.Backend))

	return &app{cfg: cfg, logger: log, metrics: m, reg: reg, ctrl: ctrl}, nil
}

func (a *app) Close(ctx context.Context) error {
	err := a.reg.CloseAll(ctx)
	_ = a.logger.Sync()
	return err
}

func backendsFor(cfg *config.Config) store.BackendFactory {
	if cfg.Storage.Backend == config.BackendSQLite {
		return db.Backends(cfg.DataDir)
	}
	return store.FileBackends(cfg.DataDir)
}

// newTranslator returns nil when translation is disabled.
func newTranslator(ctx context.Context, cfg *config.Config, m *metrics.Collector, log *zap.Logger) (services.Translator, error) {
	tc := cfg.Translation
	if !tc.Enabled {
		return nil, nil
	}
	provider, err := llm.NewProviderFromConfig(ctx, tc.Provider, tc.Endpoint, tc.Model, tc.Region, cfg.GetTranslationTimeout())
	if err != nil {
		return nil, err
	}
	svc, err := services.NewTranslationService(provider, tc.GetTranslationPrompt(), tc.CacheSize, m, log)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
