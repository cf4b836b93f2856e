package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/lynN18he/reviewops/internal/catalog"
	"github.com/lynN18he/reviewops/internal/review"
)

// maxIDAttempts bounds resampling of a colliding ID for one template.
const maxIDAttempts = 8

// MonitorOptions controls batch shape.
type MonitorOptions struct {
	MinBatch         int
	MustHavePositive bool
	Source           string
}

// DefaultMonitorOptions returns the ingestion defaults.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{MinBatch: 2, MustHavePositive: true, Source: "mock"}
}

// Monitor samples new records from the catalog and inserts them into the
// store. It never reproduces an ID already stored or already seen.
type Monitor struct {
	store   review.Store
	catalog *catalog.Catalog
	opts    MonitorOptions
	logger  log.Logger
	hooks   Hooks

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewMonitor panics on a nil store or catalog.
func NewMonitor(store review.Store, cat *catalog.Catalog, opts MonitorOptions, hooks Hooks, logger log.Logger) *Monitor {
	if store == nil {
		panic(xerrors.New("pipeline.NewMonitor: nil store"))
	}
	if cat == nil {
		panic(xerrors.New("pipeline.NewMonitor: nil catalog"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Source == "" {
		opts.Source = "mock"
	}
	return &Monitor{
		store:   store,
		catalog: cat,
		opts:    opts,
		logger:  logger,
		hooks:   hooks,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:     time.Now,
	}
}

// Ingest draws one batch, persists it and reports the accepted records.
// Only store errors are returned.
func (m *Monitor) Ingest(ctx context.Context, seen IDSet) (Update, error) {
	picked := m.sample()

	taken := make(IDSet, len(picked))
	records := make([]review.Record, 0, len(picked))
	for _, tpl := range picked {
		rec, ok, err := m.accept(ctx, tpl, seen, taken)
		if err != nil {
			return Update{Stage: StageIngest}, err
		}
		if !ok {
			m.logger.Warn(ctx, "monitor gave up on template after id collisions",
				"template", tpl.Key,
				"attempts", maxIDAttempts,
			)
			continue
		}
		taken.Add(rec.ID)
		records = append(records, rec)
	}

	m.hooks.ingest(len(records))

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return Update{
		Stage:   StageIngest,
		Records: records,
		Logs:    []string{ingestLine(records)},
		SeenIDs: ids,
	}, nil
}

// sample picks one positive template (when required) and n others without
// replacement, n uniform in [remaining, min(remaining+1, pool)].
func (m *Monitor) sample() []catalog.Template {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []catalog.Template
	if pos := m.catalog.Positive(); m.opts.MustHavePositive && len(pos) > 0 {
		out = append(out, pos[m.rng.IntN(len(pos))])
	}

	others := m.catalog.Others()
	if len(others) == 0 {
		return out
	}
	remaining := max(1, m.opts.MinBatch-len(out))
	hi := min(remaining+1, len(others))
	lo := min(remaining, hi)
	n := lo + m.rng.IntN(hi-lo+1)

	for _, i := range m.rng.Perm(len(others))[:n] {
		out = append(out, others[i])
	}
	return out
}

// accept mints an unused ID for tpl and inserts the record. ok is false
// when every attempt collided.
func (m *Monitor) accept(ctx context.Context, tpl catalog.Template, seen, taken IDSet) (review.Record, bool, error) {
	for range maxIDAttempts {
		id := m.mintID(tpl.Key)
		if seen.Has(id) || taken.Has(id) {
			continue
		}
		exists, err := m.store.Exists(ctx, id)
		if err != nil {
			return review.Record{}, false, fmt.Errorf("%w: exists: %w", review.ErrStore, err)
		}
		if exists {
			continue
		}

		rec := review.Record{
			ID:        id,
			Text:      tpl.Text,
			Rating:    tpl.Rating,
			Source:    m.opts.Source,
			User:      tpl.User,
			CreatedAt: m.clock(),
		}
		inserted, err := m.store.Insert(ctx, &rec)
		if err != nil {
			return review.Record{}, false, fmt.Errorf("%w: insert: %w", review.ErrStore, err)
		}
		if inserted {
			return rec, true, nil
		}
	}
	return review.Record{}, false, nil
}

// mintID returns key_<unixnano>_<4-digit random>.
func (m *Monitor) mintID(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("%s_%d_%d", key, m.now().UnixNano(), 1000+m.rng.IntN(9000))
}

func (m *Monitor) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().UTC()
}

func ingestLine(records []review.Record) string {
	var pos, neg, neu int
	ids := make([]string, len(records))
	for i, r := range records {
		switch {
		case r.Rating >= 4:
			pos++
		case r.Rating < 3:
			neg++
		default:
			neu++
		}
		ids[i] = r.ID
	}
	if len(records) == 0 {
		return "Monitor: no new reviews"
	}
	return fmt.Sprintf("Monitor: ingested %d new reviews (positive %d, negative %d, neutral %d): %s",
		len(records), pos, neg, neu, strings.Join(ids, ", "))
}
