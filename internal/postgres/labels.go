package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// origin records who is issuing queries: an API request or a pipeline run.
type origin struct {
	method string
	runID  string
	stage  string
}

type originKey struct{}

type statsKey struct{}

func originFrom(ctx context.Context) origin {
	o, _ := ctx.Value(originKey{}).(origin)
	return o
}

func withOrigin(ctx context.Context, update func(*origin)) context.Context {
	o := originFrom(ctx)
	update(&o)
	return context.WithValue(ctx, originKey{}, o)
}

// WithHTTPMethod tags queries issued while serving a request.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return withOrigin(ctx, func(o *origin) { o.method = method })
}

// WithRun tags queries with the pipeline run that issued them.
func WithRun(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return withOrigin(ctx, func(o *origin) { o.runID = runID })
}

// WithStage tags queries with the pipeline stage that issued them.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return withOrigin(ctx, func(o *origin) { o.stage = stage })
}

// queryLabels derives the origin/route metric labels. Pipeline queries are
// labelled by stage, API queries by HTTP method and chi route pattern.
func queryLabels(ctx context.Context) (originLabel, route string) {
	o := originFrom(ctx)
	if o.stage != "" {
		return "pipeline", o.stage
	}
	originLabel, route = o.method, ""
	if originLabel == "" {
		originLabel = "UNKNOWN"
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		route = rc.RoutePattern()
	}
	if route == "" {
		route = "unknown"
	}
	return originLabel, route
}

// QueryStats accumulates the queries issued under one context, typically a
// pipeline run.
type QueryStats struct {
	mu       sync.Mutex
	count    int
	errors   int
	duration time.Duration
}

func (s *QueryStats) add(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.duration += d
	if err != nil {
		s.errors++
	}
}

// Totals returns the number of queries, failed queries and their summed
// duration so far.
func (s *QueryStats) Totals() (count, errors int, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.errors, s.duration
}

// WithQueryStats attaches a fresh QueryStats to ctx.
func WithQueryStats(ctx context.Context) (context.Context, *QueryStats) {
	s := &QueryStats{}
	return context.WithValue(ctx, statsKey{}, s), s
}

func statsFrom(ctx context.Context) *QueryStats {
	s, _ := ctx.Value(statsKey{}).(*QueryStats)
	return s
}
