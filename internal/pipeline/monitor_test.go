package pipeline

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/lynN18he/reviewops/internal/catalog"
	"github.com/lynN18he/reviewops/internal/review"
	"github.com/lynN18he/reviewops/internal/review/memstore"
)

func TestIngest_BatchMinimumWithPositive(t *testing.T) {
	t.Parallel()

	for _, minBatch := range []int{1, 2, 3, 5} {
		m := NewMonitor(memstore.New(), catalog.Default(), MonitorOptions{MinBatch: minBatch, MustHavePositive: true}, Hooks{}, log.Nop())
		for range 50 {
			u, err := m.Ingest(context.Background(), NewIDSet())
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if len(u.Records) < minBatch {
				t.Fatalf("min %d: got %d records", minBatch, len(u.Records))
			}
			var positive bool
			for _, r := range u.Records {
				if r.Rating >= 4 {
					positive = true
				}
			}
			if !positive {
				t.Fatalf("min %d: no positive record in %+v", minBatch, u.Records)
			}
		}
	}
}

func TestIngest_IdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	m := NewMonitor(store, catalog.Default(), DefaultMonitorOptions(), Hooks{}, log.Nop())

	seen := NewIDSet()
	all := map[string]int{}
	for range 100 {
		u, err := m.Ingest(context.Background(), seen)
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		for _, r := range u.Records {
			all[r.ID]++
		}
		for _, id := range u.SeenIDs {
			seen.Add(id)
		}
	}
	for id, n := range all {
		if n != 1 {
			t.Fatalf("id %s emitted %d times", id, n)
		}
	}
	entries, err := store.AllRecords(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(all) {
		t.Fatalf("store holds %d, emitted %d", len(entries), len(all))
	}
}

func TestIngest_ResamplesOnCollision(t *testing.T) {
	t.Parallel()

	cat := catalog.New(catalog.Template{Key: "201", Text: "好", Rating: 5, Sentiment: catalog.Positive})
	m := NewMonitor(memstore.New(), cat, MonitorOptions{MinBatch: 1, MustHavePositive: true}, Hooks{}, log.Nop())

	// every suffix at t=1 is taken; later calls move the clock on
	var calls int
	m.now = func() time.Time {
		calls++
		if calls == 1 {
			return time.Unix(0, 1)
		}
		return time.Unix(0, 2)
	}
	seen := NewIDSet()
	for i := 1000; i < 10000; i++ {
		seen.Add("201_1_" + strconv.Itoa(i))
	}

	u, err := m.Ingest(context.Background(), seen)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(u.Records))
	}
	if !strings.HasPrefix(u.Records[0].ID, "201_2_") {
		t.Fatalf("id %s: want a resampled id minted at t=2", u.Records[0].ID)
	}
}

func TestIngest_GivesUpAfterRepeatedCollisions(t *testing.T) {
	t.Parallel()

	cat := catalog.New(catalog.Template{Key: "201", Text: "好", Rating: 5, Sentiment: catalog.Positive})
	m := NewMonitor(memstore.New(), cat, MonitorOptions{MinBatch: 1, MustHavePositive: true}, Hooks{}, log.Nop())
	m.now = func() time.Time { return time.Unix(0, 7) }

	seen := NewIDSet()
	for i := 1000; i < 10000; i++ {
		seen.Add("201_7_" + strconv.Itoa(i))
	}

	u, err := m.Ingest(context.Background(), seen)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(u.Records) != 0 {
		t.Fatalf("got %+v, want empty batch", u.Records)
	}
}

func TestIngest_EmptyCatalog(t *testing.T) {
	t.Parallel()

	m := NewMonitor(memstore.New(), catalog.New(), DefaultMonitorOptions(), Hooks{}, log.Nop())
	u, err := m.Ingest(context.Background(), NewIDSet())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(u.Records) != 0 {
		t.Fatalf("got %d records", len(u.Records))
	}
	if len(u.Logs) != 1 {
		t.Fatalf("logs = %v", u.Logs)
	}
}

func TestIngest_IDShapeAndLog(t *testing.T) {
	t.Parallel()

	var ingested int
	m := NewMonitor(memstore.New(), catalog.Default(), DefaultMonitorOptions(), Hooks{OnIngest: func(n int) { ingested += n }}, log.Nop())
	u, err := m.Ingest(context.Background(), NewIDSet())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range u.Records {
		parts := strings.Split(r.ID, "_")
		if len(parts) != 3 {
			t.Fatalf("id %q: want key_nanos_rand", r.ID)
		}
		if r.Source != "mock" {
			t.Errorf("source = %q", r.Source)
		}
		if !strings.Contains(u.Logs[0], r.ID) {
			t.Errorf("log line %q missing %s", u.Logs[0], r.ID)
		}
	}
	if ingested != len(u.Records) {
		t.Fatalf("hook saw %d, batch %d", ingested, len(u.Records))
	}
}

func TestIngest_StoreErrorIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	store := &failingStore{Store: memstore.New(), failInsert: true, err: boom}
	m := NewMonitor(store, catalog.Default(), DefaultMonitorOptions(), Hooks{}, log.Nop())

	_, err := m.Ingest(context.Background(), NewIDSet())
	if !errors.Is(err, review.ErrStore) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrStore wrapping %v", err, boom)
	}
}
