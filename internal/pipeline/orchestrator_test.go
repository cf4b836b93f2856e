package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"

	"github.com/lynN18he/reviewops/internal/catalog"
	"github.com/lynN18he/reviewops/internal/rag"
	"github.com/lynN18he/reviewops/internal/review"
	"github.com/lynN18he/reviewops/internal/review/memstore"
)

func newOrch(c *countingStages, hooks Hooks) *Orchestrator {
	return NewOrchestrator(c, c, c, c, hooks, log.Nop())
}

func TestRun_SkipsWhenNothingCritical(t *testing.T) {
	t.Parallel()

	c := &countingStages{records: []review.Record{rec("201_1", 5, "good"), rec("202_1", 4, "fine")}}
	var stages []Stage
	st, err := newOrch(c, Hooks{}).Run(context.Background(), "run-1", NewIDSet(), func(s Stage, _ *State) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatal(err)
	}

	if c.attrN != 0 || c.synthN != 0 {
		t.Fatalf("attribute called %d, synthesize called %d, want 0", c.attrN, c.synthN)
	}
	if len(st.Attributions) != 0 || len(st.Actions) != 0 {
		t.Fatalf("state = %+v", st)
	}
	if st.Stage != StageDone {
		t.Fatalf("stage = %s", st.Stage)
	}
	if len(stages) != 2 || stages[0] != StageIngest || stages[1] != StageClassify {
		t.Fatalf("updates = %v", stages)
	}
}

func TestRun_FullPath(t *testing.T) {
	t.Parallel()

	bad := rec("102_1", 1, "bad")
	c := &countingStages{
		records:  []review.Record{rec("201_1", 5, "good"), bad},
		critical: []review.Record{bad},
	}
	var last *State
	st, err := newOrch(c, Hooks{}).Run(context.Background(), "run-2", NewIDSet("old_1"), func(_ Stage, s *State) { last = s })
	if err != nil {
		t.Fatal(err)
	}

	if c.ingestN != 1 || c.classN != 1 || c.attrN != 1 || c.synthN != 1 {
		t.Fatalf("calls = %d/%d/%d/%d", c.ingestN, c.classN, c.attrN, c.synthN)
	}
	if len(st.Attributions) != 1 || len(st.Actions) != 1 {
		t.Fatalf("state = %+v", st)
	}
	if len(st.LogLines) != 4 {
		t.Fatalf("log lines = %v", st.LogLines)
	}
	for _, id := range []string{"old_1", "201_1", "102_1"} {
		if !st.SeenIDs.Has(id) {
			t.Errorf("seen missing %s", id)
		}
	}
	if last == nil || last.Stage != StageDone || last.RunID != "run-2" {
		t.Fatalf("final update = %+v", last)
	}
}

func TestRun_StageErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("store gone")
	bad := rec("102_1", 1, "bad")
	c := &countingStages{
		records:  []review.Record{bad},
		critical: []review.Record{bad},
		attrErr:  boom,
	}
	var result string
	st, err := newOrch(c, Hooks{OnRun: func(r string, _ time.Duration) { result = r }}).Run(context.Background(), "run-3", NewIDSet(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if c.synthN != 0 {
		t.Fatal("synthesize ran after failure")
	}
	if st == nil || !st.SeenIDs.Has("102_1") {
		t.Fatalf("partial state lost: %+v", st)
	}
	if result != "error" {
		t.Fatalf("run hook result = %q", result)
	}
}

func TestRun_RealStagesDegradeEndToEnd(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	down := &scriptedOracle{err: errors.New("oracle offline")}
	cat := catalog.New(
		catalog.Template{Key: "201", Text: "飞行很稳", Rating: 5, Sentiment: catalog.Positive},
		catalog.Template{Key: "102", Text: "质量问题", Rating: 1, Sentiment: catalog.Negative},
	)

	orch := NewOrchestrator(
		NewMonitor(store, cat, DefaultMonitorOptions(), Hooks{}, log.Nop()),
		NewFilter(down, DefaultFilterOptions(), Hooks{}, log.Nop()),
		NewAttributor(down, &fakeSearcher{err: errors.New("no vectors")}, store, AttributorOptions{RAG: rag.DefaultOptions()}, Hooks{}, log.Nop()),
		NewSynthesizer(down, store, DefaultSynthesizerOptions(), Hooks{}, log.Nop()),
		Hooks{}, log.Nop(),
	)

	st, err := orch.Run(context.Background(), "run-4", NewIDSet(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.NewRecords) != 2 {
		t.Fatalf("new = %d", len(st.NewRecords))
	}
	if len(st.CriticalRecords) != 1 || st.CriticalRecords[0].Rating != 1 {
		t.Fatalf("critical = %+v", st.CriticalRecords)
	}
	if len(st.Attributions) != len(st.CriticalRecords) || len(st.Actions) != len(st.Attributions) {
		t.Fatalf("coverage broken: %d critical, %d attributions, %d actions",
			len(st.CriticalRecords), len(st.Attributions), len(st.Actions))
	}
	if st.Attributions[0].Outcome != review.OutcomeUnclassified {
		t.Fatalf("outcome = %s", st.Attributions[0].Outcome)
	}
	if st.Actions[0].Kind != review.ActionTicket || st.Actions[0].Priority != review.PriorityMedium {
		t.Fatalf("action = %+v", st.Actions[0])
	}

	e, ok, err := store.Get(context.Background(), st.CriticalRecords[0].ID)
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if e.Attribution == nil || e.Action == nil || e.RiskLevel != review.RiskMedium {
		t.Fatalf("entry not fully written: %+v", e)
	}
}

func TestRun_CreatesStageSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	c := &countingStages{records: []review.Record{rec("201_1", 5, "good")}}
	if _, err := newOrch(c, Hooks{}).Run(context.Background(), "run-5", NewIDSet(), nil); err != nil {
		t.Fatal(err)
	}

	counts := make(map[string]int)
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
	}
	for _, name := range []string{"pipeline.Run", "pipeline.ingest", "pipeline.classify"} {
		if counts[name] != 1 {
			t.Errorf("%s spans = %d, want 1", name, counts[name])
		}
	}
	if counts["pipeline.attribute"] != 0 {
		t.Errorf("attribute span recorded on skip path")
	}
}

func TestNewOrchestrator_PanicsOnNilStage(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	c := &countingStages{}
	NewOrchestrator(c, nil, c, c, Hooks{}, log.Nop())
}
