package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/previdia/case-pipeline/internal/blob"
	"github.com/previdia/case-pipeline/internal/consolidate"
	"github.com/previdia/case-pipeline/internal/extract"
	"github.com/previdia/case-pipeline/internal/pipeline"
	"github.com/previdia/case-pipeline/internal/quality"
	"github.com/previdia/case-pipeline/internal/store"
	"github.com/previdia/case-pipeline/internal/task"
	"github.com/previdia/case-pipeline/internal/validation"
	anthropicpkg "github.com/previdia/case-pipeline/pkg/anthropic"
)

// pipelineEnv holds the initialized store, clients, and pipeline components
// needed by the process/validate/quality/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Blobs        blob.Store
	Pipeline     *pipeline.Pipeline
	Extractor    *extract.Extractor
	Consolidator *consolidate.Consolidator
	Validator    *validation.Validator
	Quality      *quality.Engine
	Tasks        *task.Manager
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured store backend and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: no database_url configured (set store.database_url or CASEPIPE_STORE_DATABASE_URL)")
		}
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "case-pipeline.db"
		}
		st, err = store.NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return st, nil
}

// initPipeline sets up the store, the blob store, the Anthropic client, and
// builds the pipeline components. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic: no API key configured (set anthropic.key or CASEPIPE_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewFSStore(cfg.Blob.Root)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	client := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.Options{
		RequestsPerMin: cfg.Anthropic.RequestsPerMin,
		Timeout:        time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
	})

	profiles, err := validation.LoadProfiles(cfg.Validation.ProfilesPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	extractor := extract.New(st, blobs, client, cfg.Extract, cfg.Anthropic.Model)
	consolidator := consolidate.New(st)
	validator := validation.New(st, client, profiles, cfg.Validation, cfg.Anthropic.ScoringModel)
	engine := quality.New(st, client, cfg.Quality, cfg.Anthropic.ScoringModel)

	zap.L().Debug("pipeline initialized",
		zap.String("driver", cfg.Store.Driver),
		zap.String("model", cfg.Anthropic.Model),
		zap.String("scoring_model", cfg.Anthropic.ScoringModel),
	)

	return &pipelineEnv{
		Store:        st,
		Blobs:        blobs,
		Pipeline:     pipeline.New(st, blobs, extractor, consolidator, validator),
		Extractor:    extractor,
		Consolidator: consolidator,
		Validator:    validator,
		Quality:      engine,
		Tasks:        task.NewManager(),
	}, nil
}
