package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/lynN18he/reviewops/internal/rag"
	"github.com/lynN18he/reviewops/internal/review"
)

// scriptedOracle answers by matching a substring of the prompt, falling back
// to def. It records every prompt.
type scriptedOracle struct {
	mu      sync.Mutex
	replies map[string]string
	def     string
	err     error
	prompts []string
}

func (o *scriptedOracle) Ask(_ context.Context, prompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prompts = append(o.prompts, prompt)
	if o.err != nil {
		return "", o.err
	}
	for needle, reply := range o.replies {
		if strings.Contains(prompt, needle) {
			return reply, nil
		}
	}
	return o.def, nil
}

func (o *scriptedOracle) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.prompts)
}

// fakeSearcher returns fixed chunks and counts calls.
type fakeSearcher struct {
	mu     sync.Mutex
	chunks []rag.Chunk
	err    error
	n      int
}

func (s *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]rag.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.chunks, s.err
}

func (s *fakeSearcher) SearchWithDistance(ctx context.Context, q string, k int) ([]rag.Chunk, error) {
	return s.Search(ctx, q, k)
}

// blockingSearcher returns only when ctx ends.
type blockingSearcher struct{}

func (blockingSearcher) Search(ctx context.Context, _ string, _ int) ([]rag.Chunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b blockingSearcher) SearchWithDistance(ctx context.Context, q string, k int) ([]rag.Chunk, error) {
	return b.Search(ctx, q, k)
}

// failingStore wraps a Store and fails the chosen operations.
type failingStore struct {
	review.Store
	failInsert bool
	failUpdate bool
	err        error
}

func (s *failingStore) Insert(ctx context.Context, rec *review.Record) (bool, error) {
	if s.failInsert {
		return false, s.err
	}
	return s.Store.Insert(ctx, rec)
}

func (s *failingStore) UpdateAnalysis(ctx context.Context, id string, a review.Analysis) (bool, error) {
	if s.failUpdate {
		return false, s.err
	}
	return s.Store.UpdateAnalysis(ctx, id, a)
}

// countingStages implements every stage interface with canned output.
type countingStages struct {
	mu       sync.Mutex
	records  []review.Record
	critical []review.Record
	ingestN  int
	classN   int
	attrN    int
	synthN   int
	attrErr  error
}

func (c *countingStages) Ingest(_ context.Context, _ IDSet) (Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingestN++
	ids := make([]string, len(c.records))
	for i, r := range c.records {
		ids[i] = r.ID
	}
	return Update{Records: c.records, Logs: []string{"ingest"}, SeenIDs: ids}, nil
}

func (c *countingStages) Classify(_ context.Context, _ []review.Record) Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.classN++
	return Update{Records: c.critical, Logs: []string{"classify"}}
}

func (c *countingStages) Attribute(_ context.Context, critical []review.Record) (Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrN++
	if c.attrErr != nil {
		return Update{}, c.attrErr
	}
	out := make([]review.AttributionResult, len(critical))
	for i, r := range critical {
		out[i] = review.AttributionResult{RecordID: r.ID, Outcome: review.OutcomeNeedsInvestigation}
	}
	return Update{Attributions: out, Logs: []string{"attribute"}}, nil
}

func (c *countingStages) Synthesize(_ context.Context, attrs []review.AttributionResult) (Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synthN++
	out := make([]review.ActionPlan, len(attrs))
	for i, a := range attrs {
		out[i] = review.ActionPlan{RecordID: a.RecordID, Kind: review.ActionTicket, Priority: review.PriorityHigh}
	}
	return Update{Actions: out, Logs: []string{"synthesize"}}, nil
}

func rec(id string, rating int, text string) review.Record {
	return review.Record{ID: id, Rating: rating, Text: text, Source: "test"}
}
