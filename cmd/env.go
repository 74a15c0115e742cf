package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/cost"
	"github.com/proethica/ontextract/internal/extraction"
	"github.com/proethica/ontextract/internal/graph"
	"github.com/proethica/ontextract/internal/pipeline"
	"github.com/proethica/ontextract/internal/provenance"
	"github.com/proethica/ontextract/internal/schema"
	"github.com/proethica/ontextract/internal/store"
	"github.com/proethica/ontextract/pkg/graphstore"
	"github.com/proethica/ontextract/pkg/llm"
	"github.com/proethica/ontextract/pkg/ontology"
)

// appEnv holds the initialized store, clients, and pipeline shared by the
// extract/pipeline/serve/versions commands.
type appEnv struct {
	Store     store.Store
	LLM       llm.Client
	Catalogue ontology.Client
	Registry  *schema.Registry
	Templates *extraction.TemplateStore
	Tracker   *provenance.Tracker
	Versions  *provenance.Manager
	Sink      graphstore.Sink
	Pipeline  *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close(ctx context.Context) {
	if e.Sink != nil {
		if err := e.Sink.Close(ctx); err != nil {
			zap.L().Warn("close graph sink", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, LLM and catalogue clients, the graph sink, and
// the pipeline. Callers should defer env.Close(ctx).
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	templates, err := extraction.NewTemplateStore()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if cfg.Extraction.TemplateOverrides != "" {
		if err := templates.LoadOverrides(cfg.Extraction.TemplateOverrides); err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("loaded template overrides", zap.String("path", cfg.Extraction.TemplateOverrides))
	}

	llmClient := llm.NewClient(cfg.Anthropic.Key,
		llm.WithRateLimit(cfg.Anthropic.RateLimitRPS, cfg.Anthropic.RateBurst),
	)
	catalogue := ontology.NewClient(cfg.Ontology.BaseURL,
		ontology.WithTimeout(time.Duration(cfg.Ontology.TimeoutSecs)*time.Second),
	)

	sink, err := initSink(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := schema.NewRegistry()
	tracker := provenance.NewTracker(st, cfg.Extraction.AgentID)
	versions := provenance.NewManager(st, cfg.Versioning)

	env := &appEnv{
		Store:     st,
		LLM:       llmClient,
		Catalogue: catalogue,
		Registry:  registry,
		Templates: templates,
		Tracker:   tracker,
		Versions:  versions,
		Sink:      sink,
	}
	env.Pipeline = pipeline.New(pipeline.Deps{
		Config:    cfg,
		Store:     st,
		LLM:       llmClient,
		Catalogue: catalogue,
		Registry:  registry,
		Templates: templates,
		Tracker:   tracker,
		Versions:  versions,
		Converter: graph.NewConverter(registry, cfg.Extraction.AgentID),
		Sink:      sink,
		Costs:     cost.NewCalculator(cost.DefaultRates()),
	})
	return env, nil
}

// initStore opens the configured persistence backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		zap.L().Info("store: postgres")
		return st, nil
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		zap.L().Info("store: sqlite", zap.String("path", cfg.Store.DatabaseURL))
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initSink builds the configured graph sink.
func initSink(ctx context.Context) (graphstore.Sink, error) {
	switch cfg.Graph.Sink {
	case "neo4j":
		sink, err := graphstore.NewNeo4jSink(ctx, graphstore.Neo4jConfig{
			URI:      cfg.Graph.URI,
			User:     cfg.Graph.User,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
		})
		if err != nil {
			return nil, err
		}
		zap.L().Info("graph sink: neo4j", zap.String("uri", cfg.Graph.URI))
		return sink, nil
	case "log", "":
		return graphstore.NewLogSink(), nil
	default:
		return nil, eris.Errorf("unknown graph sink %q", cfg.Graph.Sink)
	}
}
