package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/lynN18he/reviewops/internal/review"
)

// Notifier receives the high-priority plans of a finished run.
type Notifier interface {
	NotifyActions(ctx context.Context, runID string, plans []review.ActionPlan) error
}

// Service is the business boundary for pipeline runs. It owns the seen_ids
// ledger, which only grows.
type Service struct {
	orch     *Orchestrator
	store    review.Store
	notifier Notifier
	logger   log.Logger

	mu   sync.Mutex
	seen IDSet
}

// NewService creates a pipeline service. notifier may be nil.
func NewService(orch *Orchestrator, store review.Store, notifier Notifier, logger log.Logger) *Service {
	if orch == nil {
		panic(xerrors.New("pipeline.NewService: nil orchestrator"))
	}
	if store == nil {
		panic(xerrors.New("pipeline.NewService: nil store"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		orch:     orch,
		store:    store,
		notifier: notifier,
		logger:   logger,
		seen:     make(IDSet),
	}
}

// Load seeds the ledger with every stored record ID.
func (s *Service) Load(ctx context.Context) error {
	entries, err := s.store.AllRecords(ctx)
	if err != nil {
		return fmt.Errorf("%w: load ledger: %w", review.ErrStore, err)
	}
	s.mu.Lock()
	for _, e := range entries {
		s.seen.Add(e.ID)
	}
	n := len(s.seen)
	s.mu.Unlock()

	s.logger.Info(ctx, "seen ledger loaded", "ids", n)
	return nil
}

// Seen returns a copy of the ledger.
func (s *Service) Seen() IDSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.Clone()
}

// Run executes one pipeline run. The ledger is unioned with the run's
// seen IDs even when the run fails part way.
func (s *Service) Run(ctx context.Context, onUpdate UpdateFunc) (*State, error) {
	runID := ulid.Make().String()

	st, err := s.orch.Run(ctx, runID, s.Seen(), onUpdate)
	if st != nil {
		s.mu.Lock()
		s.seen.Union(st.SeenIDs)
		s.mu.Unlock()
	}
	if err != nil {
		return st, err
	}

	s.notify(ctx, st)
	return st, nil
}

func (s *Service) notify(ctx context.Context, st *State) {
	if s.notifier == nil {
		return
	}
	var high []review.ActionPlan
	for _, p := range st.Actions {
		if p.Priority == review.PriorityHigh {
			high = append(high, p)
		}
	}
	if len(high) == 0 {
		return
	}
	if err := s.notifier.NotifyActions(ctx, st.RunID, high); err != nil {
		s.logger.Error(ctx, err, "failed to send action notification",
			"run_id", st.RunID,
			"plans", len(high),
		)
	}
}

// History returns up to limit entries, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]review.Entry, error) {
	return s.store.History(ctx, limit)
}

// Get retrieves an entry by record ID.
func (s *Service) Get(ctx context.Context, id string) (*review.Entry, bool, error) {
	return s.store.Get(ctx, id)
}

// Schedule runs the pipeline every interval until ctx is done. Failed runs
// are logged and do not stop the schedule.
func (s *Service) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	s.logger.Info(ctx, "scheduled runs enabled", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Run(ctx, nil); err != nil {
				s.logger.Error(ctx, err, "scheduled run failed")
			}
		}
	}
}
