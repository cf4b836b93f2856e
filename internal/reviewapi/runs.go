package reviewapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/lynN18he/reviewops/internal/pipeline"
	"github.com/lynN18he/reviewops/internal/review"
)

// runView is the wire form of a run state. The cross-run seen ledger grows
// with every run, so only its size is reported.
type runView struct {
	RunID           string                     `json:"run_id"`
	Stage           pipeline.Stage             `json:"stage"`
	NewRecords      []review.Record            `json:"new_records"`
	CriticalRecords []review.Record            `json:"critical_records"`
	Attributions    []review.AttributionResult `json:"attribution_results"`
	Actions         []review.ActionPlan        `json:"action_plans"`
	LogLines        []string                   `json:"log_lines"`
	SeenCount       int                        `json:"seen_count"`
}

func viewOf(st *pipeline.State) *runView {
	if st == nil {
		return nil
	}
	return &runView{
		RunID:           st.RunID,
		Stage:           st.Stage,
		NewRecords:      st.NewRecords,
		CriticalRecords: st.CriticalRecords,
		Attributions:    st.Attributions,
		Actions:         st.Actions,
		LogLines:        st.LogLines,
		SeenCount:       len(st.SeenIDs),
	}
}

// progress is one NDJSON line of a streamed run. Stage names the stage
// that just finished; only the line with Final set is authoritative.
type progress struct {
	Stage pipeline.Stage `json:"stage"`
	Final bool           `json:"final"`
	State *runView       `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	if stream, _ := strconv.ParseBool(r.URL.Query().Get("stream")); stream {
		a.streamRun(w, r)
		return
	}

	st, err := a.svc.Run(ctx, nil)
	if err != nil {
		a.logger.Error(ctx, err, "pipeline run failed")
		writeError(w, runErrorStatus(err), "pipeline run failed")
		return
	}
	span.SetAttributes(
		attribute.String("reviewops.run.id", st.RunID),
		attribute.Int("reviewops.run.critical", len(st.CriticalRecords)),
	)
	writeJSON(w, http.StatusOK, viewOf(st))
}

// streamRun writes one line per stage update; the last line is final.
func (a *API) streamRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	emit := func(p progress) {
		_ = enc.Encode(p)
		if flusher != nil {
			flusher.Flush()
		}
	}

	st, err := a.svc.Run(ctx, func(stage pipeline.Stage, snap *pipeline.State) {
		emit(progress{Stage: stage, State: viewOf(snap)})
	})
	if err != nil {
		a.logger.Error(ctx, err, "streamed pipeline run failed")
		emit(progress{Stage: pipeline.StageDone, Final: true, State: viewOf(st), Error: "pipeline run failed"})
		return
	}
	emit(progress{Stage: pipeline.StageDone, Final: true, State: viewOf(st)})
}

func runErrorStatus(err error) int {
	if errors.Is(err, review.ErrStore) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	entries, err := a.svc.History(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read history")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []review.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": entries})
}

func (a *API) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("reviewops.record.id", id))

	entry, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get record", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if entry.RiskLevel != "" {
		span.SetAttributes(attribute.String("reviewops.record.risk_level", string(entry.RiskLevel)))
	}
	writeJSON(w, http.StatusOK, entry)
}
