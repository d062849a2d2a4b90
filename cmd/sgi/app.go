package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sgi/pkg/config"
	"sgi/pkg/datastore"
	"sgi/pkg/llm/providers"
	"sgi/pkg/logx"
	"sgi/pkg/magiclink"
	"sgi/pkg/metrics"
	"sgi/pkg/orchestrator"
	"sgi/pkg/persistence"
	"sgi/pkg/session"
	"sgi/pkg/tools"
	"sgi/pkg/utils"
	"sgi/pkg/workflow"
)

// loadConfig reads --config and applies the logging switches. Commands that
// only touch storage skip validation so they run without model credentials.
func loadConfig(validate bool) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if validate {
		cfg, err = config.Load(configPath, os.Getenv)
	} else {
		var data []byte
		if configPath != "" {
			if data, err = os.ReadFile(configPath); err != nil {
				return config.Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
			}
		}
		cfg, err = config.Parse(data, os.Getenv)
	}
	if err != nil {
		return config.Config{}, err
	}
	logx.Configure(debugFlag || cfg.Logging.Debug, cfg.Logging.Domains)
	return cfg, nil
}

// storage is the opened database with both of its views.
type storage struct {
	db      *sql.DB
	state   *persistence.Store
	records *datastore.SQL
}

func openStorage(cfg *config.Config) (*storage, error) {
	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		return nil, logx.Wrap(err, "failed to open database "+cfg.Database.Path)
	}
	records, err := datastore.NewSQL(db)
	if err != nil {
		_ = db.Close()
		return nil, logx.Wrap(err, "failed to prepare record store")
	}
	return &storage{db: db, state: persistence.NewStore(db), records: records}, nil
}

func (s *storage) Close() error {
	return s.db.Close()
}

func (s *storage) linkService(cfg *config.Config, recorder metrics.Recorder) (*magiclink.Service, error) {
	return magiclink.NewService(magiclink.Config{
		Secret:        cfg.MagicLink.Secret,
		TTL:           cfg.MagicLink.TTL,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}, s.state, recorder)
}

// seedFrom loads a YAML fixture file into the record store.
func seedFrom(ctx context.Context, store datastore.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open seed %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return datastore.LoadSeed(ctx, store, f)
}

// stack is every component a turn needs, built from one config.
type stack struct {
	*storage
	cfg      *config.Config
	registry *prometheus.Registry
	recorder *metrics.PrometheusRecorder
	links    *magiclink.Service
	turns    *orchestrator.Orchestrator
}

func buildStack(ctx context.Context, cfg *config.Config, seedPath string) (*stack, error) {
	st, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	s := &stack{storage: st, cfg: cfg}
	if err := s.build(ctx, seedPath); err != nil {
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

func (s *stack) build(ctx context.Context, seedPath string) error {
	cfg := s.cfg
	if seedPath != "" {
		n, err := seedFrom(ctx, s.records, seedPath)
		if err != nil {
			return err
		}
		logx.Infof("🌱 Seeded %d records from %s", n, seedPath)
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.recorder = metrics.NewPrometheusRecorder(s.registry)

	links, err := s.linkService(cfg, s.recorder)
	if err != nil {
		return err
	}
	s.links = links

	model, err := providers.New(cfg.LLM, s.recorder)
	if err != nil {
		return logx.Errorf("failed to create %s client: %w", cfg.LLM.Provider, err)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterCatalog(registry, s.records, tools.Options{
		MenuMaxRows:      cfg.Orchestrator.MenuMaxRows,
		LinkRowThreshold: cfg.Orchestrator.LinkRowThreshold,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	sessions := session.NewSQLStore(s.state)
	engine := workflow.New(sessions, s.records, s.recorder, workflow.Options{MenuMaxRows: cfg.Orchestrator.MenuMaxRows})

	counter, err := utils.NewTokenCounter()
	if err != nil {
		logx.Warnf("token counter unavailable, history budget is estimated: %v", err)
		counter = nil
	}

	s.turns, err = orchestrator.New(orchestrator.Deps{
		Sessions:   sessions,
		Workflows:  engine,
		Dispatcher: tools.NewDispatcher(registry, cfg.Orchestrator.ToolTimeout, s.recorder),
		Store:      s.records,
		LLM:        model,
		Links:      s.links,
		History:    s.state,
		Deliveries: s.state,
		Recorder:   s.recorder,
		Tokens:     counter,
	}, orchestrator.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return nil
}
