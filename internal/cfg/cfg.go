package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/lynN18he/reviewops/internal/pipeline"
	"github.com/lynN18he/reviewops/internal/rag"
	"github.com/lynN18he/reviewops/internal/review"
)

// Oracle providers.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// Config adds application configuration fields to the common
// cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DatabaseURL string
	SQLitePath  string

	OracleProvider string
	ClaudeAPIKey   string
	ClaudeModel    string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	EmbeddingModel string
	OracleTimeout  time.Duration
	OracleRPS      float64

	WeaviateURL   string
	WeaviateClass string

	RAGTopK              int
	RAGDistanceThreshold float64
	RAGMaxContextLength  int
	RAGMaxDocsInContext  int
	RAGFingerprintLength int
	RAGTimeout           time.Duration

	FilterRatingThreshold int
	FilterKeywords        string

	MonitorMinReviews       int
	MonitorMustHavePositive bool
	CatalogPath             string

	ActionDefaultKind     string
	ActionDefaultPriority string
	StageConcurrency      int
	RunInterval           time.Duration

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 5, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = SQLite or in-memory store)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file used when database-url is empty (empty = in-memory store)")

	fs.StringVar(&c.OracleProvider, "oracle-provider", ProviderOpenAI, "reasoning oracle provider (claude|openai)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI-compatible provider")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "https://dashscope.aliyuncs.com/compatible-mode/v1", "base URL of the OpenAI-compatible endpoint")
	fs.StringVar(&c.OpenAIModel, "openai-model", "qwen-plus", "chat model on the OpenAI-compatible endpoint")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-v3", "embedding model on the OpenAI-compatible endpoint")
	fs.DurationVar(&c.OracleTimeout, "oracle-timeout", 30*time.Second, "timeout for one oracle call")
	fs.Float64Var(&c.OracleRPS, "oracle-rps", 0, "oracle calls per second (0 = unlimited)")

	fs.StringVar(&c.WeaviateURL, "weaviate-url", "", "Weaviate URL for manual evidence (empty = no retrieval)")
	fs.StringVar(&c.WeaviateClass, "weaviate-class", "ManualChunk", "Weaviate class holding manual chunks")

	fs.IntVar(&c.RAGTopK, "rag-top-k", 5, "evidence chunks requested per record (1..50)")
	fs.Float64Var(&c.RAGDistanceThreshold, "rag-distance-threshold", 1.5, "drop evidence farther than this distance")
	fs.IntVar(&c.RAGMaxContextLength, "rag-max-context-length", 300, "runes kept per evidence chunk")
	fs.IntVar(&c.RAGMaxDocsInContext, "rag-max-docs-in-context", 3, "evidence chunks kept in the prompt")
	fs.IntVar(&c.RAGFingerprintLength, "rag-fingerprint-length", 150, "runes of chunk text used as dedup key")
	fs.DurationVar(&c.RAGTimeout, "rag-timeout", 15*time.Second, "timeout for one evidence retrieval, query embedding included")

	fs.IntVar(&c.FilterRatingThreshold, "filter-rating-threshold", 3, "fallback rule flags ratings below this (1..6)")
	fs.StringVar(&c.FilterKeywords, "filter-keywords", strings.Join(pipeline.DefaultKeywords, ","), "comma-separated fallback keywords")

	fs.IntVar(&c.MonitorMinReviews, "monitor-min-reviews", 2, "minimum reviews per ingested batch (1..100)")
	fs.BoolVar(&c.MonitorMustHavePositive, "monitor-must-have-positive", true, "include one positive review per batch")
	fs.StringVar(&c.CatalogPath, "catalog-path", "", "YAML review template catalog (empty = embedded)")

	fs.StringVar(&c.ActionDefaultKind, "action-default-kind", string(review.ActionTicket), "action kind used when the oracle returns an invalid one")
	fs.StringVar(&c.ActionDefaultPriority, "action-default-priority", string(review.PriorityMedium), "priority used when the oracle returns an invalid one")
	fs.IntVar(&c.StageConcurrency, "stage-concurrency", 4, "records attributed or synthesized in parallel (1..64)")
	fs.DurationVar(&c.RunInterval, "run-interval", 0, "interval between scheduled pipeline runs (0 = disabled)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for high-priority action plans")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// The selected provider needs its key and model
	switch c.OracleProvider {
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for oracle provider claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for oracle provider claude"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for oracle provider openai"))
		}
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required for oracle provider openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ORACLE_PROVIDER %q (must be claude or openai)", c.OracleProvider))
	}

	if c.OracleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid ORACLE_TIMEOUT %s (must be > 0)", c.OracleTimeout))
	}
	if c.OracleRPS < 0 {
		errs = append(errs, fmt.Errorf("invalid ORACLE_RPS %g (must be >= 0)", c.OracleRPS))
	}

	// Retrieval embeds queries through the OpenAI-compatible endpoint
	if c.WeaviateURL != "" {
		if c.WeaviateClass == "" {
			errs = append(errs, errors.New("WEAVIATE_CLASS is required when WEAVIATE_URL is set"))
		}
		if c.OpenAIAPIKey == "" || c.EmbeddingModel == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY and EMBEDDING_MODEL are required when WEAVIATE_URL is set"))
		}
	}

	if c.RAGTopK < 1 || c.RAGTopK > 50 {
		errs = append(errs, fmt.Errorf("invalid RAG_TOP_K %d (must be 1..50)", c.RAGTopK))
	}
	if c.RAGDistanceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid RAG_DISTANCE_THRESHOLD %g (must be > 0)", c.RAGDistanceThreshold))
	}
	if c.RAGMaxContextLength < 1 {
		errs = append(errs, fmt.Errorf("invalid RAG_MAX_CONTEXT_LENGTH %d (must be >= 1)", c.RAGMaxContextLength))
	}
	if c.RAGMaxDocsInContext < 1 {
		errs = append(errs, fmt.Errorf("invalid RAG_MAX_DOCS_IN_CONTEXT %d (must be >= 1)", c.RAGMaxDocsInContext))
	}
	if c.RAGFingerprintLength < 1 {
		errs = append(errs, fmt.Errorf("invalid RAG_FINGERPRINT_LENGTH %d (must be >= 1)", c.RAGFingerprintLength))
	}
	if c.RAGTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid RAG_TIMEOUT %s (must be > 0)", c.RAGTimeout))
	}

	if c.FilterRatingThreshold < 1 || c.FilterRatingThreshold > 6 {
		errs = append(errs, fmt.Errorf("invalid FILTER_RATING_THRESHOLD %d (must be 1..6)", c.FilterRatingThreshold))
	}
	if c.MonitorMinReviews < 1 || c.MonitorMinReviews > 100 {
		errs = append(errs, fmt.Errorf("invalid MONITOR_MIN_REVIEWS %d (must be 1..100)", c.MonitorMinReviews))
	}

	if _, ok := review.ParseActionKind(c.ActionDefaultKind); !ok {
		errs = append(errs, fmt.Errorf("invalid ACTION_DEFAULT_KIND %q", c.ActionDefaultKind))
	}
	if _, ok := review.ParsePriority(c.ActionDefaultPriority); !ok {
		errs = append(errs, fmt.Errorf("invalid ACTION_DEFAULT_PRIORITY %q", c.ActionDefaultPriority))
	}
	if c.StageConcurrency < 1 || c.StageConcurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid STAGE_CONCURRENCY %d (must be 1..64)", c.StageConcurrency))
	}
	if c.RunInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid RUN_INTERVAL %s (must be >= 0)", c.RunInterval))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Keywords splits FilterKeywords, dropping blanks.
func (c *Config) Keywords() []string {
	var out []string
	for _, k := range strings.Split(c.FilterKeywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// RAGOptions returns the evidence selection settings.
func (c *Config) RAGOptions() rag.Options {
	return rag.Options{
		TopK:              c.RAGTopK,
		DistanceThreshold: c.RAGDistanceThreshold,
		MaxContextLength:  c.RAGMaxContextLength,
		MaxDocs:           c.RAGMaxDocsInContext,
		FingerprintLength: c.RAGFingerprintLength,
		Timeout:           c.RAGTimeout,
	}
}

// MonitorOptions returns the ingestion settings.
func (c *Config) MonitorOptions() pipeline.MonitorOptions {
	return pipeline.MonitorOptions{
		MinBatch:         c.MonitorMinReviews,
		MustHavePositive: c.MonitorMustHavePositive,
		Source:           "mock",
	}
}

// FilterOptions returns the classifier fallback settings.
func (c *Config) FilterOptions() pipeline.FilterOptions {
	return pipeline.FilterOptions{
		RatingThreshold: c.FilterRatingThreshold,
		Keywords:        c.Keywords(),
	}
}

// AttributorOptions returns the attribution settings.
func (c *Config) AttributorOptions() pipeline.AttributorOptions {
	return pipeline.AttributorOptions{RAG: c.RAGOptions(), Concurrency: c.StageConcurrency}
}

// SynthesizerOptions returns the synthesis settings. Call after Validate.
func (c *Config) SynthesizerOptions() pipeline.SynthesizerOptions {
	kind, _ := review.ParseActionKind(c.ActionDefaultKind)
	prio, _ := review.ParsePriority(c.ActionDefaultPriority)
	return pipeline.SynthesizerOptions{
		DefaultKind:     kind,
		DefaultPriority: prio,
		Concurrency:     c.StageConcurrency,
	}
}
