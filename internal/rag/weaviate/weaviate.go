// Package weaviate implements rag.DistanceSearcher and manual ingestion on a
// Weaviate class that stores externally computed vectors.
package weaviate

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/lynN18he/reviewops/internal/rag"
)

var tracer = otel.Tracer("github.com/lynN18he/reviewops/internal/rag/weaviate")

// Manual chunking defaults.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Store searches and fills one Weaviate class.
type Store struct {
	client   *weaviate.Client
	class    string
	embedder rag.Embedder
	logger   log.Logger
}

// New connects to the Weaviate instance at rawURL ("http://host:port" or a
// bare host). Queries are embedded with embedder. timeout bounds each HTTP
// request to Weaviate; zero keeps the client default.
func New(rawURL, class string, embedder rag.Embedder, timeout time.Duration, logger log.Logger) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("weaviate: embedder is required")
	}
	if class == "" {
		return nil, errors.New("weaviate: class is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	cfg := weaviate.Config{Host: rawURL, Scheme: "http", Timeout: timeout}
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &Store{client: client, class: class, embedder: embedder, logger: logger}, nil
}

// Search implements rag.Searcher.
func (s *Store) Search(ctx context.Context, query string, k int) ([]rag.Chunk, error) {
	return s.search(ctx, query, k, false)
}

// SearchWithDistance implements rag.DistanceSearcher.
func (s *Store) SearchWithDistance(ctx context.Context, query string, k int) ([]rag.Chunk, error) {
	return s.search(ctx, query, k, true)
}

func (s *Store) search(ctx context.Context, query string, k int, withDistance bool) ([]rag.Chunk, error) {
	ctx, span := tracer.Start(ctx, "weaviate.Search", trace.WithAttributes(
		attribute.String("db.system", "weaviate"),
		attribute.String("weaviate.class", s.class),
		attribute.Int("weaviate.k", k),
	))
	defer span.End()

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fail(span, fmt.Errorf("embed query: %w", err))
	}
	if len(vecs) != 1 {
		return nil, fail(span, fmt.Errorf("embed query: got %d vectors", len(vecs)))
	}

	fields := []graphql.Field{{Name: "content"}, {Name: "source"}}
	if withDistance {
		fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}})
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vecs[0])

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("weaviate search: %w", err))
	}
	if len(result.Errors) > 0 {
		return nil, fail(span, fmt.Errorf("weaviate search: %s", result.Errors[0].Message))
	}
	chunks, err := parseChunks(result, s.class, withDistance)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("weaviate.results", len(chunks)))
	return chunks, nil
}

type chunkRow struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	Additional *struct {
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

func parseChunks(result *models.GraphQLResponse, class string, withDistance bool) ([]rag.Chunk, error) {
	raw, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var data struct {
		Get map[string][]chunkRow `json:"Get"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse graphql data: %w", err)
	}
	rows := data.Get[class]
	out := make([]rag.Chunk, 0, len(rows))
	for _, r := range rows {
		c := rag.Chunk{Content: r.Content, Source: r.Source}
		if withDistance && r.Additional != nil && r.Additional.Distance != nil {
			c.Distance = *r.Additional.Distance
			c.HasDistance = true
		}
		out = append(out, c)
	}
	return out, nil
}

// EnsureClass creates the class with an external ("none") vectorizer when it
// does not exist yet.
func (s *Store) EnsureClass(ctx context.Context) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx); err == nil {
		return nil
	}
	class := &models.Class{
		Class:      s.class,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "ingested_at", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}
	s.logger.Info(ctx, "created weaviate class", "class", s.class)
	return nil
}

// Split chunks content for ingestion.
func Split(content string, size, overlap int) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
	return splitter.SplitText(content)
}

// ChunkID derives a stable object ID from the chunk text so re-ingesting
// the same document overwrites instead of duplicating.
func ChunkID(chunk string) strfmt.UUID {
	hash := sha256.Sum256([]byte(chunk))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// Ingest splits content, embeds each chunk and batch-imports the result.
// It returns the number of chunks Weaviate accepted.
func (s *Store) Ingest(ctx context.Context, source, content string) (int, error) {
	ctx, span := tracer.Start(ctx, "weaviate.Ingest", trace.WithAttributes(
		attribute.String("weaviate.class", s.class),
		attribute.String("weaviate.source", source),
	))
	defer span.End()

	chunks, err := Split(content, DefaultChunkSize, DefaultChunkOverlap)
	if err != nil {
		return 0, fail(span, fmt.Errorf("split %s: %w", source, err))
	}
	if len(chunks) == 0 {
		s.logger.Warn(ctx, "no chunks produced", "source", source)
		return 0, nil
	}
	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fail(span, fmt.Errorf("embed chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		return 0, fail(span, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors)))
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class:  s.class,
			ID:     ChunkID(chunk),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":     chunk,
				"source":      fmt.Sprintf("%s_part_%d", source, i+1),
				"ingested_at": now,
			},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fail(span, fmt.Errorf("batch import: %w", err))
	}
	accepted := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			s.logger.Warn(ctx, "weaviate batch item rejected", "source", source, "error", item.Result.Errors.Error[0].Message)
			continue
		}
		accepted++
	}
	s.logger.Info(ctx, "ingested manual", "source", source, "chunks", len(chunks), "accepted", accepted)
	return accepted, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
