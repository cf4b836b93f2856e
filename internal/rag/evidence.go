package rag

import (
	"context"

	"github.com/lynN18he/reviewops/internal/review"
)

// Evidence is the outcome of retrieval for one query.
type Evidence struct {
	Status review.Retrieval
	Chunks []Chunk // survivors after filter and dedup, before the MaxDocs cap
	Block  string  // assembled context; empty unless Status is evidence
	Err    error   // set when Status is failed
}

// Gather runs retrieval for query and assembles the context block. A nil
// searcher yields RetrievalNone; a search error, or no answer within
// opts.Timeout, yields RetrievalFailed.
// Gather never returns an unusable Evidence: callers branch on Status.
func Gather(ctx context.Context, s Searcher, query string, opts Options) Evidence {
	if s == nil {
		return Evidence{Status: review.RetrievalNone}
	}
	rctx, cancel := withTimeout(ctx, opts.Timeout)
	raw, err := Retrieve(rctx, s, query, opts.TopK)
	cancel()
	if err != nil {
		return Evidence{Status: review.RetrievalFailed, Err: err}
	}
	kept := Survivors(raw, opts)
	if len(kept) == 0 {
		return Evidence{Status: review.RetrievalEmpty}
	}
	return Evidence{
		Status: review.RetrievalEvidence,
		Chunks: kept,
		Block:  BuildContext(kept, opts.MaxDocs, opts.MaxContextLength),
	}
}
