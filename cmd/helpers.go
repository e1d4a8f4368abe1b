package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gso-insight/indicator-cli/internal/classify"
	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/pipeline"
	"github.com/gso-insight/indicator-cli/internal/registry"
	"github.com/gso-insight/indicator-cli/internal/store"
	anthropicpkg "github.com/gso-insight/indicator-cli/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "indicator.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// pipelineEnv holds the initialized store, registry, and pipeline needed
// by the extract/batch/serve commands. Slots caps how many webhook
// extractions may run at once.
type pipelineEnv struct {
	Store    store.Store
	Registry *model.FamilyRegistry
	Pipeline *pipeline.Pipeline
	Slots    chan struct{}
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for the given mode, sets up the store and
// the Anthropic client, loads the family registry, and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg, err := registry.Load(cfg.Families.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	classifier := classify.New(anthropicClient, reg, *cfg)

	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 4
	}

	return &pipelineEnv{
		Store:    st,
		Registry: reg,
		Pipeline: pipeline.New(cfg, st, reg, classifier),
		Slots:    make(chan struct{}, workers),
	}, nil
}
