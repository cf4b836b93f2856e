// Package rag is the vector-store boundary: evidence retrieval with
// distance filtering, fingerprint dedup and context assembly.
package rag

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Chunk is one retrieved passage. HasDistance is false when the backend
// returned no similarity score.
type Chunk struct {
	Content     string  `json:"content"`
	Source      string  `json:"source,omitempty"`
	Distance    float64 `json:"distance,omitempty"`
	HasDistance bool    `json:"has_distance"`
}

// Searcher returns up to k chunks near query, without distances.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Chunk, error)
}

// DistanceSearcher is implemented by backends that can report distances.
type DistanceSearcher interface {
	Searcher
	SearchWithDistance(ctx context.Context, query string, k int) ([]Chunk, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes evidence selection.
type Options struct {
	TopK              int
	DistanceThreshold float64
	MaxContextLength  int // runes kept per chunk in the context block
	MaxDocs           int // chunks kept in the context block; 0 = no cap
	FingerprintLength int // runes of trimmed content used as dedup key
	// Timeout bounds one retrieval, embedding and fallback search
	// included. Zero means no limit.
	Timeout time.Duration
}

// DefaultOptions returns the attribution defaults.
func DefaultOptions() Options {
	return Options{
		TopK:              5,
		DistanceThreshold: 1.5,
		MaxContextLength:  300,
		MaxDocs:           3,
		FingerprintLength: 150,
		Timeout:           15 * time.Second,
	}
}

// Fingerprint is the dedup key of content: its first n runes after
// trimming surrounding whitespace.
func Fingerprint(content string, n int) string {
	content = strings.TrimSpace(content)
	if n <= 0 || utf8.RuneCountInString(content) <= n {
		return content
	}
	return string([]rune(content)[:n])
}

// FilterByDistance drops chunks whose known distance exceeds threshold.
// Chunks without a distance are kept.
func FilterByDistance(chunks []Chunk, threshold float64) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.HasDistance && c.Distance > threshold {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Dedup keeps the first chunk per fingerprint, preserving order. Blank
// chunks are dropped.
func Dedup(chunks []Chunk, fingerprintLen int) []Chunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		fp := Fingerprint(c.Content, fingerprintLen)
		if fp == "" {
			continue
		}
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Survivors applies the distance filter and then dedup.
func Survivors(chunks []Chunk, opts Options) []Chunk {
	return Dedup(FilterByDistance(chunks, opts.DistanceThreshold), opts.FingerprintLength)
}

// BuildContext caps chunks to maxDocs, truncates each to maxLen runes and
// joins them into one context block.
func BuildContext(chunks []Chunk, maxDocs, maxLen int) string {
	if maxDocs > 0 && len(chunks) > maxDocs {
		chunks = chunks[:maxDocs]
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		text := strings.TrimSpace(c.Content)
		if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
			text = string([]rune(text)[:maxLen]) + "..."
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n---\n")
}

// withTimeout derives a context bounded by d. d <= 0 leaves ctx as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Retrieve searches with distances when the backend supports it, falling
// back to a plain search if the distance query fails. The caller bounds ctx.
func Retrieve(ctx context.Context, s Searcher, query string, k int) ([]Chunk, error) {
	if ds, ok := s.(DistanceSearcher); ok {
		chunks, err := ds.SearchWithDistance(ctx, query, k)
		if err == nil {
			return chunks, nil
		}
	}
	return s.Search(ctx, query, k)
}
