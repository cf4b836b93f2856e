package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives per-query timings (wired by main for Prometheus).
// origin is the HTTP method for API traffic or "pipeline" for queries issued
// by a run; route is the chi route pattern or the pipeline stage.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, origin, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, origin, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, origin, route, outcome string, dur time.Duration) {
	f(ctx, origin, route, outcome, dur)
}

type observerHolder struct{ QueryObserver }

var (
	queryObserver atomic.Pointer[observerHolder]

	// successful queries faster than this are not logged; 0 logs all
	slowQueryThreshold atomic.Int64
)

// SetQueryObserver installs the global observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	if h := queryObserver.Load(); h != nil {
		return h.QueryObserver
	}
	return nil
}

// SetSlowQueryThreshold sets the minimum duration for a successful query to
// be logged. Failed queries are always logged.
func SetSlowQueryThreshold(d time.Duration) {
	slowQueryThreshold.Store(int64(d))
}

// queryMeta is carried from TraceQueryStart to TraceQueryEnd.
type queryMeta struct {
	sql     string
	args    []any
	start   time.Time
	caller  string
	handler string
}

type metaKey struct{}

// loggingTracer wraps another pgx.QueryTracer (otelpgx) and adds metrics,
// run statistics and a structured log line for slow or failed queries.
type loggingTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return loggingTracer{inner: inner}
}

func (t loggingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	meta := queryMeta{sql: data.SQL, args: data.Args, start: time.Now()}
	meta.caller, meta.handler = findDBCallerAndHandler()

	// inner tracer opens the span the attributes below land on
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if meta.caller != "" {
			span.SetAttributes(attribute.String("db.caller", meta.caller))
		}
		if meta.handler != "" {
			span.SetAttributes(attribute.String("db.handler", meta.handler))
		}
		if o := originFrom(ctx); o.stage != "" {
			span.SetAttributes(attribute.String("pipeline.stage", o.stage))
		}
	}
	return context.WithValue(ctx, metaKey{}, meta)
}

func (t loggingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	meta, _ := ctx.Value(metaKey{}).(queryMeta)
	var dur time.Duration
	if !meta.start.IsZero() {
		dur = time.Since(meta.start)
	}

	if s := statsFrom(ctx); s != nil {
		s.add(dur, data.Err)
	}
	if obs := getQueryObserver(); obs != nil && dur > 0 {
		originLabel, route := queryLabels(ctx)
		obs.ObserveQuery(ctx, originLabel, route, outcome(data.Err), dur)
	}

	if threshold := time.Duration(slowQueryThreshold.Load()); threshold > 0 && dur < threshold && data.Err == nil {
		return
	}

	L := log.FromContext(ctx)
	fields := queryFields(ctx, meta, dur, data)
	if data.Err != nil {
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// queryFields builds the structured log fields for one query.
func queryFields(ctx context.Context, meta queryMeta, dur time.Duration, data pgx.TraceQueryEndData) []any {
	fields := []any{
		"db.statement", meta.sql,
		"db.args", meta.args,
		"db.duration", dur.Seconds(),
	}

	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields,
			"db.operation.name", strings.ToUpper(strings.Fields(tag)[0]),
			"pg.command_tag", tag,
		)
		if rows := data.CommandTag.RowsAffected(); rows >= 0 {
			fields = append(fields, "db.rows", rows)
		}
	}
	if meta.caller != "" {
		fields = append(fields, "db.caller", meta.caller)
	}
	if meta.handler != "" {
		fields = append(fields, "db.handler", meta.handler)
	}

	o := originFrom(ctx)
	if o.runID != "" {
		fields = append(fields, "pipeline.run_id", o.runID)
	}
	if o.stage != "" {
		fields = append(fields, "pipeline.stage", o.stage)
	}

	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		fields = append(fields,
			"db.error_code", pgErr.Code,
			"db.error_constraint", pgErr.ConstraintName,
		)
	}
	return fields
}

// findDBCallerAndHandler walks the stack for the function issuing the query
// (caller) and the first meaningful frame above it (handler).
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		if !more {
			break
		}
		fn := fr.Function
		if skipFrame(fn) {
			continue
		}
		if caller == "" {
			caller = shortenFuncName(fn)
			continue
		}
		// store helpers are not interesting as the handler
		if strings.Contains(fn, "reviewops/internal/postgres.") || strings.Contains(fn, "pgstore.scan") {
			continue
		}
		handler = shortenFuncName(fn)
		break
	}
	return caller, handler
}

func skipFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "loggingTracer.TraceQuery")
}

// shortenFuncName drops the import path and package name, keeping the
// receiver and method.
func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
