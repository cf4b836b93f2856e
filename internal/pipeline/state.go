package pipeline

import (
	"encoding/json"
	"sort"

	"github.com/lynN18he/reviewops/internal/review"
)

// Stage names a pipeline state.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageClassify   Stage = "classify"
	StageAttribute  Stage = "attribute"
	StageSynthesize Stage = "synthesize"
	StageDone       Stage = "done"
)

// IDSet is a set of record IDs. It marshals as a sorted array.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Union adds every id in other to s.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Clone returns an independent copy.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	out.Union(s)
	return out
}

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON implements json.Marshaler.
func (s IDSet) MarshalJSON() ([]byte, error) { return json.Marshal(s.Sorted()) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *IDSet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// State is threaded through one run. Each stage owns one list field, which
// it replaces; LogLines only grows and SeenIDs only gains members.
type State struct {
	RunID           string                     `json:"run_id"`
	Stage           Stage                      `json:"stage"`
	NewRecords      []review.Record            `json:"new_records"`
	CriticalRecords []review.Record            `json:"critical_records"`
	Attributions    []review.AttributionResult `json:"attribution_results"`
	Actions         []review.ActionPlan        `json:"action_plans"`
	LogLines        []string                   `json:"log_lines"`
	SeenIDs         IDSet                      `json:"seen_ids"`
}

// NewState seeds a run with the caller's ledger. seen is copied.
func NewState(runID string, seen IDSet) *State {
	return &State{
		RunID:   runID,
		Stage:   StageIngest,
		SeenIDs: seen.Clone(),
	}
}

// Update is the output of one stage. Only the field owned by Stage is read.
type Update struct {
	Stage        Stage
	Records      []review.Record
	Attributions []review.AttributionResult
	Actions      []review.ActionPlan
	Logs         []string
	SeenIDs      []string
}

// Merge folds u into s.
func (s *State) Merge(u Update) {
	switch u.Stage {
	case StageIngest:
		s.NewRecords = u.Records
	case StageClassify:
		s.CriticalRecords = u.Records
	case StageAttribute:
		s.Attributions = u.Attributions
	case StageSynthesize:
		s.Actions = u.Actions
	}
	s.LogLines = append(s.LogLines, u.Logs...)
	if s.SeenIDs == nil {
		s.SeenIDs = make(IDSet, len(u.SeenIDs))
	}
	for _, id := range u.SeenIDs {
		s.SeenIDs.Add(id)
	}
}

// Snapshot returns a copy safe to hand to another goroutine.
func (s *State) Snapshot() *State {
	cp := *s
	cp.NewRecords = append([]review.Record(nil), s.NewRecords...)
	cp.CriticalRecords = append([]review.Record(nil), s.CriticalRecords...)
	cp.Attributions = append([]review.AttributionResult(nil), s.Attributions...)
	cp.Actions = append([]review.ActionPlan(nil), s.Actions...)
	cp.LogLines = append([]string(nil), s.LogLines...)
	cp.SeenIDs = s.SeenIDs.Clone()
	return &cp
}
