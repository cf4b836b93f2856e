package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynN18he/reviewops/internal/oracle"
)

func TestMetricsHooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	h := NewMetrics(reg).Hooks()

	h.OnRun("ok", time.Second)
	h.OnStage(StageClassify, time.Millisecond, nil)
	h.OnStage(StageAttribute, time.Millisecond, errors.New("x"))
	h.OnDegrade(StageClassify, oracle.KindTimeout)
	h.OnIngest(3)
	h.OnAction("Ticket", "High")
	h.OnOracle("ok", time.Millisecond)
	h.OnResolved(TierPosition)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range []string{
		"reviewops_runs_total",
		"reviewops_run_duration_seconds",
		"reviewops_stage_duration_seconds",
		"reviewops_degrades_total",
		"reviewops_oracle_calls_total",
		"reviewops_oracle_call_duration_seconds",
		"reviewops_records_ingested_total",
		"reviewops_action_plans_total",
		"reviewops_id_resolve_total",
	} {
		if !got[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}

func TestHooks_NilSafe(t *testing.T) {
	t.Parallel()

	var h Hooks
	h.stage(StageIngest, 0, nil)
	h.degrade(StageIngest, oracle.KindParse)
	h.ingest(1)
	h.action("Ticket", "Low")
	h.run("ok", 0)
	h.resolved(TierExact)
}
