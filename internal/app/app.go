// Package app assembles the review pipeline from configuration. Both the
// server and the operator CLI build their components here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynN18he/reviewops/internal/catalog"
	"github.com/lynN18he/reviewops/internal/cfg"
	"github.com/lynN18he/reviewops/internal/llm/claude"
	"github.com/lynN18he/reviewops/internal/llm/openai"
	"github.com/lynN18he/reviewops/internal/notify/slack"
	"github.com/lynN18he/reviewops/internal/oracle"
	"github.com/lynN18he/reviewops/internal/pipeline"
	"github.com/lynN18he/reviewops/internal/postgres"
	"github.com/lynN18he/reviewops/internal/rag"
	"github.com/lynN18he/reviewops/internal/rag/weaviate"
	"github.com/lynN18he/reviewops/internal/review"
	"github.com/lynN18he/reviewops/internal/review/memstore"
	"github.com/lynN18he/reviewops/internal/review/pgstore"
	"github.com/lynN18he/reviewops/internal/review/sqlitestore"
)

// oracleBurst is the token bucket size when oracle-rps is set.
const oracleBurst = 2

// App is the assembled pipeline.
type App struct {
	Store     review.Store
	Service   *pipeline.Service
	Assistant *rag.Assistant
	Vectors   *weaviate.Store // nil when no vector store is configured

	closers []func()
}

// Close releases the store and any pools, in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// New builds every component from c, which must already be validated.
// reg may be nil to skip pipeline metrics.
func New(ctx context.Context, c *cfg.Config, reg prometheus.Registerer, L log.Logger) (*App, error) {
	if L == nil {
		L = log.Nop()
	}
	a := &App{}

	store, closeStore, err := OpenStore(ctx, c, L)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	var hooks pipeline.Hooks
	if reg != nil {
		hooks = pipeline.NewMetrics(reg).Hooks()
	}

	o, err := NewOracle(c, hooks.OnOracle)
	if err != nil {
		a.Close()
		return nil, err
	}
	L.Info(ctx, "initialized reasoning oracle", "provider", c.OracleProvider, "timeout", c.OracleTimeout, "rps", c.OracleRPS)

	var searcher rag.Searcher
	if c.WeaviateURL != "" {
		vs, err := NewVectorStore(c, L)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Vectors = vs
		searcher = vs
		L.Info(ctx, "evidence retrieval enabled", "weaviate_url", c.WeaviateURL, "class", c.WeaviateClass)
	} else {
		L.Info(ctx, "evidence retrieval disabled (no weaviate-url configured)")
	}

	cat, err := catalog.Load(c.CatalogPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := cat.CheckBatch(c.MonitorMinReviews, c.MonitorMustHavePositive); err != nil {
		a.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}

	orch := pipeline.NewOrchestrator(
		pipeline.NewMonitor(store, cat, c.MonitorOptions(), hooks, L),
		pipeline.NewFilter(o, c.FilterOptions(), hooks, L),
		pipeline.NewAttributor(o, searcher, store, c.AttributorOptions(), hooks, L),
		pipeline.NewSynthesizer(o, store, c.SynthesizerOptions(), hooks, L),
		hooks, L,
	)

	var notifier pipeline.Notifier
	if c.SlackWebhookURL != "" {
		notifier = slack.New(c.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	a.Service = pipeline.NewService(orch, store, notifier, L)
	if err := a.Service.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Assistant = rag.NewAssistant(L, searcher, o, c.RAGOptions())
	return a, nil
}

// OpenStore picks PostgreSQL, then SQLite, then memory, by configuration.
func OpenStore(ctx context.Context, c *cfg.Config, L log.Logger) (review.Store, func(), error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return s, pool.Close, nil

	case c.SQLitePath != "":
		s, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", s.Path())
		return s, func() {
			if err := s.Close(); err != nil {
				L.Error(context.Background(), err, "failed to close sqlite store")
			}
		}, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url or sqlite-path configured)")
		return memstore.New(), func() {}, nil
	}
}

// NewOracle builds the configured provider wrapped with the call timeout,
// the rate limit and the observer.
func NewOracle(c *cfg.Config, observe func(outcome string, d time.Duration)) (oracle.Oracle, error) {
	var base oracle.Oracle
	switch c.OracleProvider {
	case cfg.ProviderClaude:
		base = claude.New(c.ClaudeAPIKey, c.ClaudeModel, option.WithMaxRetries(0))
	case cfg.ProviderOpenAI:
		base = openai.New(c.OpenAIAPIKey, c.OpenAIBaseURL, c.OpenAIModel, c.EmbeddingModel)
	default:
		return nil, errors.New("unknown oracle provider " + c.OracleProvider)
	}

	o := oracle.WithTimeout(base, c.OracleTimeout)
	if c.OracleRPS > 0 {
		o = oracle.Limited(o, c.OracleRPS, oracleBurst)
	}
	return oracle.Observed(o, observe), nil
}

// NewVectorStore connects to Weaviate, embedding through the
// OpenAI-compatible endpoint.
func NewVectorStore(c *cfg.Config, L log.Logger) (*weaviate.Store, error) {
	emb := openai.New(c.OpenAIAPIKey, c.OpenAIBaseURL, c.OpenAIModel, c.EmbeddingModel)
	vs, err := weaviate.New(c.WeaviateURL, c.WeaviateClass, emb, c.RAGTimeout, L)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	return vs, nil
}
