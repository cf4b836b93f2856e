package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/lynN18he/reviewops/internal/postgres"
	"github.com/lynN18he/reviewops/internal/review"
)

var tracer = otel.Tracer("github.com/lynN18he/reviewops/internal/pipeline")

// Ingester produces the run's new records.
type Ingester interface {
	Ingest(ctx context.Context, seen IDSet) (Update, error)
}

// Classifier selects the critical records. It cannot fail.
type Classifier interface {
	Classify(ctx context.Context, records []review.Record) Update
}

// AttributionStage explains critical records.
type AttributionStage interface {
	Attribute(ctx context.Context, critical []review.Record) (Update, error)
}

// SynthesisStage turns attributions into action plans.
type SynthesisStage interface {
	Synthesize(ctx context.Context, attrs []review.AttributionResult) (Update, error)
}

// UpdateFunc receives a snapshot after every stage. Only the snapshot with
// Stage == StageDone is final.
type UpdateFunc func(stage Stage, snapshot *State)

// Orchestrator runs the stage machine:
//
//	ingest -> classify -> attribute -> synthesize -> done
//	                   \-> done (no critical records)
type Orchestrator struct {
	ingester    Ingester
	classifier  Classifier
	attributor  AttributionStage
	synthesizer SynthesisStage
	hooks       Hooks
	logger      log.Logger
}

// NewOrchestrator panics on any nil stage.
func NewOrchestrator(in Ingester, cl Classifier, at AttributionStage, sy SynthesisStage, hooks Hooks, logger log.Logger) *Orchestrator {
	switch {
	case in == nil:
		panic(xerrors.New("pipeline.NewOrchestrator: nil ingester"))
	case cl == nil:
		panic(xerrors.New("pipeline.NewOrchestrator: nil classifier"))
	case at == nil:
		panic(xerrors.New("pipeline.NewOrchestrator: nil attributor"))
	case sy == nil:
		panic(xerrors.New("pipeline.NewOrchestrator: nil synthesizer"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		ingester:    in,
		classifier:  cl,
		attributor:  at,
		synthesizer: sy,
		hooks:       hooks,
		logger:      logger,
	}
}

// Run drives one pipeline run from Ingest to Done, seeded with seen. On a
// store error the partial state is returned together with the error.
func (o *Orchestrator) Run(ctx context.Context, runID string, seen IDSet, onUpdate UpdateFunc) (*State, error) {
	start := time.Now()
	L := o.logger.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("pipeline.run_id", runID),
	))
	defer span.End()
	ctx = postgres.WithRun(ctx, runID)
	ctx, dbStats := postgres.WithQueryStats(ctx)

	st := NewState(runID, seen)
	for st.Stage != StageDone {
		stage := st.Stage
		u, err := o.step(ctx, st)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			L.Error(ctx, err, "pipeline run aborted", "stage", stage)
			o.hooks.run("error", time.Since(start))
			return st, fmt.Errorf("run %s: %s: %w", runID, stage, err)
		}
		u.Stage = stage
		st.Merge(u)
		st.Stage = next(st)
		if onUpdate != nil {
			onUpdate(stage, st.Snapshot())
		}
	}

	span.SetAttributes(
		attribute.Int("pipeline.new_records", len(st.NewRecords)),
		attribute.Int("pipeline.critical_records", len(st.CriticalRecords)),
		attribute.Int("pipeline.action_plans", len(st.Actions)),
	)
	queries, failed, dbTime := dbStats.Totals()
	L.Info(ctx, "pipeline run complete",
		"new", len(st.NewRecords),
		"critical", len(st.CriticalRecords),
		"attributions", len(st.Attributions),
		"actions", len(st.Actions),
		"duration", time.Since(start),
		"db_queries", queries,
		"db_query_errors", failed,
		"db_time", dbTime,
	)
	o.hooks.run("ok", time.Since(start))
	return st, nil
}

// next applies the transition guard after a merge.
func next(st *State) Stage {
	switch st.Stage {
	case StageIngest:
		return StageClassify
	case StageClassify:
		if len(st.CriticalRecords) == 0 {
			return StageDone
		}
		return StageAttribute
	case StageAttribute:
		return StageSynthesize
	default:
		return StageDone
	}
}

func (o *Orchestrator) step(ctx context.Context, st *State) (u Update, err error) {
	stage := st.Stage
	ctx, span := tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()
	ctx = postgres.WithStage(ctx, string(stage))

	start := time.Now()
	defer func() {
		o.hooks.stage(stage, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	switch stage {
	case StageIngest:
		return o.ingester.Ingest(ctx, st.SeenIDs)
	case StageClassify:
		return o.classifier.Classify(ctx, st.NewRecords), nil
	case StageAttribute:
		return o.attributor.Attribute(ctx, st.CriticalRecords)
	case StageSynthesize:
		return o.synthesizer.Synthesize(ctx, st.Attributions)
	}
	return Update{Stage: stage}, fmt.Errorf("unknown stage %q", stage)
}
