package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lynN18he/reviewops/internal/postgres"
	"github.com/lynN18he/reviewops/internal/review"
	"github.com/lynN18he/reviewops/internal/review/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("REVIEWOPS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("REVIEWOPS_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{})
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestInsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := uniqueID("101")
	rec := &review.Record{ID: id, Text: "避障失效", Rating: 1, Source: "test", User: "u1"}
	ok, err := s.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !ok {
		t.Fatal("Insert returned false for a new id")
	}

	got, found, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("Get returned ok=false, want true")
	}
	if got.Text != rec.Text || got.Rating != 1 || got.User != "u1" {
		t.Errorf("got %+v", got.Record)
	}
	if got.Attribution != nil || got.Action != nil || got.RiskLevel != "" {
		t.Errorf("expected no analysis, got %+v", got)
	}

	ok, err = s.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if ok {
		t.Error("duplicate Insert returned true")
	}
}

func TestConcurrentInsert(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := uniqueID("race")
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Insert(ctx, &review.Record{ID: id, Text: "x"})
			if err != nil {
				t.Error(err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
}

func TestUpdateAnalysis(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := uniqueID("102")
	if _, err := s.Insert(ctx, &review.Record{ID: id, Text: "抖动"}); err != nil {
		t.Fatal(err)
	}

	attr := &review.AttributionResult{RecordID: id, Outcome: review.OutcomeKnownLimitation, Rationale: "documented"}
	if ok, err := s.UpdateAnalysis(ctx, id, review.Analysis{Attribution: attr}); err != nil || !ok {
		t.Fatalf("UpdateAnalysis(attr) = %v, %v", ok, err)
	}
	plan := &review.ActionPlan{RecordID: id, Kind: review.ActionDocUpdate, Title: "t", Priority: review.PriorityLow}
	if ok, err := s.UpdateAnalysis(ctx, id, review.Analysis{Action: plan, RiskLevel: review.RiskLow}); err != nil || !ok {
		t.Fatalf("UpdateAnalysis(action) = %v, %v", ok, err)
	}

	got, _, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Attribution == nil || got.Attribution.Outcome != review.OutcomeKnownLimitation {
		t.Errorf("Attribution = %+v", got.Attribution)
	}
	if got.Action == nil || got.Action.Kind != review.ActionDocUpdate {
		t.Errorf("Action = %+v", got.Action)
	}
	if got.RiskLevel != review.RiskLow {
		t.Errorf("RiskLevel = %q", got.RiskLevel)
	}

	ok, err := s.UpdateAnalysis(ctx, uniqueID("missing"), review.Analysis{RiskLevel: review.RiskHigh})
	if err != nil || ok {
		t.Errorf("unknown id: ok=%v err=%v", ok, err)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first, second := uniqueID("h"), uniqueID("h")
	for _, id := range []string{first, second} {
		if _, err := s.Insert(ctx, &review.Record{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	h, err := s.History(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 2 {
		t.Fatalf("len = %d, want 2", len(h))
	}
	if h[0].ID != second || h[1].ID != first {
		t.Errorf("History(2) ids = [%s %s], want [%s %s]", h[0].ID, h[1].ID, second, first)
	}
}
