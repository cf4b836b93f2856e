package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/lynN18he/reviewops/internal/oracle"
)

// Q&A retrieval widths: a wide distance search, and a narrower plain search
// when the backend cannot report distances.
const (
	askDistanceK = 10
	askPlainK    = 5
)

// ErrNoSearcher is returned by Ask when no vector store is configured.
var ErrNoSearcher = errors.New("no vector store configured")

// Answer is the result of a manual question.
type Answer struct {
	Question string  `json:"question"`
	Text     string  `json:"answer"`
	Sources  []Chunk `json:"sources"`
}

// Assistant answers free-form questions against the product manual.
type Assistant struct {
	logger   log.Logger
	searcher Searcher
	oracle   oracle.Oracle
	opts     Options
}

// NewAssistant panics on a nil oracle. A nil searcher is allowed; Ask then
// returns ErrNoSearcher.
func NewAssistant(logger log.Logger, s Searcher, o oracle.Oracle, opts Options) *Assistant {
	if o == nil {
		panic(xerrors.New("rag.NewAssistant: nil oracle"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Assistant{logger: logger, searcher: s, oracle: o, opts: opts}
}

// Ask retrieves every relevant, distinct chunk (no cap, untruncated) and
// asks the oracle to answer from them.
func (a *Assistant) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("empty question")
	}
	if a.searcher == nil {
		return nil, ErrNoSearcher
	}

	raw, err := a.retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	sources := Survivors(raw, a.opts)

	block := BuildContext(sources, 0, 0)
	text, err := oracle.Call(ctx, a.oracle, askPrompt(block, question))
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "manual question answered", "sources", len(sources))
	return &Answer{Question: question, Text: strings.TrimSpace(text), Sources: sources}, nil
}

func (a *Assistant) retrieve(ctx context.Context, question string) ([]Chunk, error) {
	ctx, cancel := withTimeout(ctx, a.opts.Timeout)
	defer cancel()
	if ds, ok := a.searcher.(DistanceSearcher); ok {
		chunks, err := ds.SearchWithDistance(ctx, question, askDistanceK)
		if err == nil {
			return chunks, nil
		}
		a.logger.Warn(ctx, "distance search failed, falling back to plain search", "error", err)
	}
	return a.searcher.Search(ctx, question, askPlainK)
}

func askPrompt(block, question string) string {
	var b strings.Builder
	b.WriteString("You are a product analyst. Using only the product manual excerpts below, ")
	b.WriteString("analyse the user's feedback.\n\nManual excerpts:\n")
	if block == "" {
		b.WriteString("(no relevant excerpts found)\n")
	} else {
		b.WriteString(block)
		b.WriteString("\n")
	}
	b.WriteString("\nAnswer in this format:\n")
	b.WriteString("- Manual reference: <the relevant manual content>\n")
	b.WriteString("- Verdict: <KnownLimitation, NeedsInvestigation or UserMisunderstanding, with one sentence why>\n\n")
	b.WriteString("User feedback: ")
	b.WriteString(question)
	return b.String()
}
