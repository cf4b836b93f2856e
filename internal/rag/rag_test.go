package rag

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/lynN18he/reviewops/internal/oracle"
	"github.com/lynN18he/reviewops/internal/review"
)

func dist(content string, d float64) Chunk {
	return Chunk{Content: content, Distance: d, HasDistance: true}
}

type fakeSearcher struct {
	plain     []Chunk
	withDist  []Chunk
	distErr   error
	plainErr  error
	plainK    int
	distK     int
	distCalls int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int) ([]Chunk, error) {
	f.plainK = k
	return f.plain, f.plainErr
}

func (f *fakeSearcher) SearchWithDistance(_ context.Context, _ string, k int) ([]Chunk, error) {
	f.distCalls++
	f.distK = k
	return f.withDist, f.distErr
}

type plainOnly struct{ chunks []Chunk }

func (p plainOnly) Search(context.Context, string, int) ([]Chunk, error) { return p.chunks, nil }

func TestSurvivors_FilterBeforeDedup(t *testing.T) {
	t.Parallel()

	in := []Chunk{dist("evidence A", 0.3), dist("evidence A", 0.3), dist("evidence B", 2.0)}
	got := Survivors(in, DefaultOptions())
	if len(got) != 1 || got[0].Content != "evidence A" {
		t.Fatalf("survivors = %+v, want one chunk \"evidence A\"", got)
	}
}

func TestSurvivors_FarDuplicateDoesNotShadowNearOne(t *testing.T) {
	t.Parallel()

	// The far copy is dropped by distance first, so the near copy survives.
	in := []Chunk{dist("same text", 3.0), dist("same text", 0.2)}
	got := Survivors(in, DefaultOptions())
	if len(got) != 1 || got[0].Distance != 0.2 {
		t.Fatalf("survivors = %+v", got)
	}
}

func TestDedup_Idempotent(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 200)
	in := []Chunk{
		{Content: "alpha"},
		{Content: "  alpha  "},
		{Content: long + "tail-1"},
		{Content: long + "tail-2"},
		{Content: ""},
		{Content: "beta"},
	}
	once := Dedup(in, 150)
	twice := Dedup(once, 150)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("dedup not idempotent:\n once=%v\ntwice=%v", once, twice)
	}
	if len(once) != 3 {
		t.Errorf("len = %d, want 3 (alpha, long, beta)", len(once))
	}
	if once[0].Content != "alpha" {
		t.Errorf("first occurrence should win, got %q", once[0].Content)
	}
}

func TestFilterByDistance_KeepsUnscored(t *testing.T) {
	t.Parallel()

	got := FilterByDistance([]Chunk{{Content: "no score"}, dist("far", 9)}, 1.5)
	if len(got) != 1 || got[0].Content != "no score" {
		t.Errorf("got %+v", got)
	}
}

func TestBuildContext(t *testing.T) {
	t.Parallel()

	chunks := []Chunk{
		{Content: strings.Repeat("避", 400)},
		{Content: "two"},
		{Content: "three"},
		{Content: "four"},
	}
	got := BuildContext(chunks, 3, 300)
	parts := strings.Split(got, "\n---\n")
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if n := len([]rune(parts[0])); n != 303 {
		t.Errorf("first part runes = %d, want 303", n)
	}
	if parts[2] != "three" {
		t.Errorf("third part = %q", parts[2])
	}
}

func TestGather(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	ctx := context.Background()

	if ev := Gather(ctx, nil, "q", opts); ev.Status != review.RetrievalNone {
		t.Errorf("nil searcher status = %q", ev.Status)
	}

	failing := &fakeSearcher{distErr: errors.New("down"), plainErr: errors.New("down")}
	if ev := Gather(ctx, failing, "q", opts); ev.Status != review.RetrievalFailed || ev.Err == nil {
		t.Errorf("failing status = %q err=%v", ev.Status, ev.Err)
	}

	allFar := &fakeSearcher{withDist: []Chunk{dist("far", 5)}}
	if ev := Gather(ctx, allFar, "q", opts); ev.Status != review.RetrievalEmpty {
		t.Errorf("all-far status = %q", ev.Status)
	}

	good := &fakeSearcher{withDist: []Chunk{dist("evidence A", 0.3), dist("evidence A", 0.3), dist("evidence B", 2.0)}}
	ev := Gather(ctx, good, "q", opts)
	if ev.Status != review.RetrievalEvidence || len(ev.Chunks) != 1 || ev.Block != "evidence A" {
		t.Errorf("evidence = %+v", ev)
	}
	if good.distK != opts.TopK {
		t.Errorf("k = %d, want %d", good.distK, opts.TopK)
	}

	plain := plainOnly{chunks: []Chunk{{Content: "c1"}, {Content: "c1"}}}
	if ev := Gather(ctx, plain, "q", opts); ev.Status != review.RetrievalEvidence || len(ev.Chunks) != 1 {
		t.Errorf("plain evidence = %+v", ev)
	}
}

func TestRetrieve_FallsBackToPlain(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{distErr: errors.New("no scores"), plain: []Chunk{{Content: "p"}}}
	got, err := Retrieve(context.Background(), s, "q", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || s.plainK != 7 {
		t.Errorf("got %v plainK=%d", got, s.plainK)
	}
}

func TestAssistant_Ask(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{withDist: []Chunk{
		dist(strings.Repeat("m", 500), 0.1),
		dist(strings.Repeat("m", 500), 0.1),
		dist("irrelevant", 1.9),
		dist("obstacle sensing is disabled in sport mode", 0.8),
	}}
	var prompt string
	o := oracle.Func(func(_ context.Context, p string) (string, error) {
		prompt = p
		return " - Verdict: KnownLimitation ", nil
	})
	a := NewAssistant(log.Nop(), s, o, DefaultOptions())

	ans, err := a.Ask(context.Background(), "why did it hit the tree?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if s.distK != askDistanceK {
		t.Errorf("k = %d, want %d", s.distK, askDistanceK)
	}
	if len(ans.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(ans.Sources))
	}
	if ans.Text != "- Verdict: KnownLimitation" {
		t.Errorf("text = %q", ans.Text)
	}
	// Whole chunks, no truncation.
	if !strings.Contains(prompt, strings.Repeat("m", 500)) {
		t.Error("prompt should carry the untruncated chunk")
	}
	if strings.Contains(prompt, "irrelevant") {
		t.Error("far chunk leaked into prompt")
	}
}

func TestAssistant_AskFallbackAndErrors(t *testing.T) {
	t.Parallel()

	o := oracle.Func(func(context.Context, string) (string, error) { return "ok", nil })

	s := &fakeSearcher{distErr: errors.New("unsupported"), plain: []Chunk{{Content: "a"}}}
	a := NewAssistant(log.Nop(), s, o, DefaultOptions())
	if _, err := a.Ask(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	if s.plainK != askPlainK {
		t.Errorf("plain k = %d, want %d", s.plainK, askPlainK)
	}

	if _, err := NewAssistant(nil, nil, o, DefaultOptions()).Ask(context.Background(), "q"); !errors.Is(err, ErrNoSearcher) {
		t.Errorf("err = %v, want ErrNoSearcher", err)
	}
	if _, err := a.Ask(context.Background(), "   "); err == nil {
		t.Error("blank question should fail")
	}
}

// stalled never answers; it returns only when ctx ends.
type stalled struct{}

func (stalled) Search(ctx context.Context, _ string, _ int) ([]Chunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s stalled) SearchWithDistance(ctx context.Context, q string, k int) ([]Chunk, error) {
	return s.Search(ctx, q, k)
}

func TestGather_TimesOutStalledStore(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond

	done := make(chan Evidence, 1)
	go func() { done <- Gather(context.Background(), stalled{}, "q", opts) }()
	select {
	case ev := <-done:
		if ev.Status != review.RetrievalFailed {
			t.Fatalf("status = %s, want failed", ev.Status)
		}
		if !errors.Is(ev.Err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", ev.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Gather did not return after its timeout")
	}
}

func TestAssistant_AskTimesOutStalledStore(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	o := oracle.Func(func(context.Context, string) (string, error) { return "ok", nil })
	a := NewAssistant(log.Nop(), stalled{}, o, opts)

	done := make(chan error, 1)
	go func() {
		_, err := a.Ask(context.Background(), "q")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Ask did not return after the retrieval timeout")
	}
}
