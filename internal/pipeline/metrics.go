package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lynN18he/reviewops/internal/oracle"
)

// Hooks are optional callbacks invoked by the stages and orchestrator.
// Nil fields are skipped.
type Hooks struct {
	OnStage    func(stage Stage, d time.Duration, err error)
	OnDegrade  func(stage Stage, kind oracle.Kind)
	OnIngest   func(n int)
	OnAction   func(kind, priority string)
	OnRun      func(result string, d time.Duration)
	OnOracle   func(outcome string, d time.Duration)
	OnResolved func(tier Tier)
}

func (h Hooks) stage(stage Stage, d time.Duration, err error) {
	if h.OnStage != nil {
		h.OnStage(stage, d, err)
	}
}

func (h Hooks) degrade(stage Stage, kind oracle.Kind) {
	if h.OnDegrade != nil {
		h.OnDegrade(stage, kind)
	}
}

func (h Hooks) ingest(n int) {
	if h.OnIngest != nil {
		h.OnIngest(n)
	}
}

func (h Hooks) action(kind, priority string) {
	if h.OnAction != nil {
		h.OnAction(kind, priority)
	}
}

func (h Hooks) run(result string, d time.Duration) {
	if h.OnRun != nil {
		h.OnRun(result, d)
	}
}

func (h Hooks) resolved(t Tier) {
	if h.OnResolved != nil {
		h.OnResolved(t)
	}
}

// Metrics holds Prometheus metrics for the pipeline.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	StageDuration    *prometheus.HistogramVec
	DegradesTotal    *prometheus.CounterVec
	OracleCallsTotal *prometheus.CounterVec
	OracleDuration   prometheus.Histogram
	RecordsIngested  prometheus.Counter
	ActionsTotal     *prometheus.CounterVec
	ResolveTotal     *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewops_runs_total",
			Help: "Total pipeline runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reviewops_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reviewops_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}, []string{"stage", "status"}),
		DegradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewops_degrades_total",
			Help: "Degrade paths taken by stage and oracle failure kind.",
		}, []string{"stage", "kind"}),
		OracleCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewops_oracle_calls_total",
			Help: "Reasoning oracle calls by outcome.",
		}, []string{"outcome"}),
		OracleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reviewops_oracle_call_duration_seconds",
			Help:    "Duration of individual oracle calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. ~64s
		}),
		RecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reviewops_records_ingested_total",
			Help: "Records inserted by the monitor.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewops_action_plans_total",
			Help: "Action plans by kind and priority.",
		}, []string{"kind", "priority"}),
		ResolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewops_id_resolve_total",
			Help: "Oracle-echoed ID resolutions by matching tier.",
		}, []string{"tier"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StageDuration,
		m.DegradesTotal,
		m.OracleCallsTotal,
		m.OracleDuration,
		m.RecordsIngested,
		m.ActionsTotal,
		m.ResolveTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStage: func(stage Stage, d time.Duration, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.StageDuration.WithLabelValues(string(stage), status).Observe(d.Seconds())
		},
		OnDegrade: func(stage Stage, kind oracle.Kind) {
			m.DegradesTotal.WithLabelValues(string(stage), string(kind)).Inc()
		},
		OnIngest: func(n int) {
			m.RecordsIngested.Add(float64(n))
		},
		OnAction: func(kind, priority string) {
			m.ActionsTotal.WithLabelValues(kind, priority).Inc()
		},
		OnRun: func(result string, d time.Duration) {
			m.RunsTotal.WithLabelValues(result).Inc()
			m.RunDuration.Observe(d.Seconds())
		},
		OnOracle: func(outcome string, d time.Duration) {
			m.OracleCallsTotal.WithLabelValues(outcome).Inc()
			m.OracleDuration.Observe(d.Seconds())
		},
		OnResolved: func(tier Tier) {
			m.ResolveTotal.WithLabelValues(tier.String()).Inc()
		},
	}
}
