package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"

	"github.com/lynN18he/reviewops/internal/oracle"
	"github.com/lynN18he/reviewops/internal/rag"
	"github.com/lynN18he/reviewops/internal/review"
)

// AttributorOptions tunes evidence retrieval and fan-out.
type AttributorOptions struct {
	RAG         rag.Options
	Concurrency int
}

// Attributor explains why each critical record occurred, using manual
// evidence when a vector store is configured.
type Attributor struct {
	oracle   oracle.Oracle
	searcher rag.Searcher
	store    review.Store
	opts     AttributorOptions
	logger   log.Logger
	hooks    Hooks
}

// NewAttributor returns an Attributor. A nil searcher disables retrieval;
// a nil oracle yields Unclassified for every record.
func NewAttributor(o oracle.Oracle, s rag.Searcher, store review.Store, opts AttributorOptions, hooks Hooks, logger log.Logger) *Attributor {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Attributor{oracle: o, searcher: s, store: store, opts: opts, logger: logger, hooks: hooks}
}

// Attribute returns exactly one AttributionResult per record, in input
// order, and persists each. Only store errors are returned.
func (a *Attributor) Attribute(ctx context.Context, critical []review.Record) (Update, error) {
	results := make([]review.AttributionResult, len(critical))
	notes := make([]string, len(critical))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i := range critical {
		g.Go(func() error {
			res, note := a.attributeOne(gctx, critical[i])
			results[i] = res
			notes[i] = note

			if a.store == nil {
				return nil
			}
			ok, err := a.store.UpdateAnalysis(gctx, res.RecordID, review.Analysis{Attribution: &res})
			if err != nil {
				return fmt.Errorf("%w: update attribution %s: %w", review.ErrStore, res.RecordID, err)
			}
			if !ok {
				a.logger.Warn(gctx, "attribution for unknown record not persisted", "record_id", res.RecordID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Update{Stage: StageAttribute}, err
	}

	logs := make([]string, 0, len(critical)+1)
	var unclassified int
	for i, r := range results {
		if r.Outcome == review.OutcomeUnclassified {
			unclassified++
		}
		if notes[i] != "" {
			logs = append(logs, notes[i])
		}
	}
	logs = append(logs, fmt.Sprintf("Attributor: %d reviews attributed, %d unclassified", len(results), unclassified))

	return Update{Stage: StageAttribute, Attributions: results, Logs: logs}, nil
}

// attributeOne never fails. note is a log line for any fallback taken.
func (a *Attributor) attributeOne(ctx context.Context, rec review.Record) (review.AttributionResult, string) {
	ev := rag.Gather(ctx, a.searcher, rec.Text, a.opts.RAG)

	var notes []string
	if ev.Status == review.RetrievalFailed {
		a.logger.Warn(ctx, "evidence retrieval failed, attributing without evidence",
			"record_id", rec.ID,
			"error", ev.Err,
		)
		notes = append(notes, fmt.Sprintf("retrieval failed for %s, no-evidence prompt used", rec.ID))
	}

	res := review.AttributionResult{
		RecordID:   rec.ID,
		RecordText: rec.Text,
		Retrieval:  ev.Status,
	}

	prompt := noEvidencePrompt(rec)
	if ev.Status == review.RetrievalEvidence {
		prompt = evidencePrompt(rec, ev.Block)
	}

	parsed, err := a.ask(ctx, prompt)
	if err != nil {
		fail := oracle.Classify(err)
		a.hooks.degrade(StageAttribute, fail.Kind)
		a.logger.Warn(ctx, "attribution oracle unusable, record left unclassified",
			"record_id", rec.ID,
			"kind", fail.Kind,
			"error", err,
			"excerpt", fail.Excerpt,
		)
		res.Outcome = review.OutcomeUnclassified
		res.Rationale = fmt.Sprintf("attribution unavailable: oracle %s", fail.Kind)
		notes = append(notes, fmt.Sprintf("Attributor fallback for %s: oracle %s, marked Unclassified", rec.ID, fail.Kind))
		return res, joinNotes(notes)
	}

	res.Outcome = parsed.Outcome
	res.Rationale = parsed.Rationale
	res.Evidence = parsed.Evidence
	if res.Evidence == "" && ev.Status == review.RetrievalEvidence {
		res.Evidence = oracle.Excerpt(ev.Chunks[0].Content, oracle.ExcerptLen)
	}
	return res, joinNotes(notes)
}

type attribution struct {
	Outcome   review.Outcome
	Rationale string
	Evidence  string
}

func (a *Attributor) ask(ctx context.Context, prompt string) (attribution, error) {
	if a.oracle == nil {
		return attribution{}, &oracle.Failure{Kind: oracle.KindUnavailable, Err: errNoOracle}
	}
	text, err := oracle.Call(ctx, a.oracle, prompt)
	if err != nil {
		return attribution{}, err
	}
	obj, err := oracle.ExtractObject(text)
	if err != nil {
		return attribution{}, err
	}

	out := attribution{Outcome: review.OutcomeUnclassified}
	if o, ok := review.ParseOutcome(obj.Get("outcome").String()); ok {
		out.Outcome = o
	}
	out.Rationale = strings.TrimSpace(obj.Get("rationale").String())
	if out.Rationale == "" {
		out.Rationale = strings.TrimSpace(obj.Get("reason").String())
	}
	if out.Rationale == "" {
		out.Rationale = "no rationale given"
	}
	out.Evidence = strings.TrimSpace(obj.Get("evidence").String())
	return out, nil
}

func joinNotes(notes []string) string { return strings.Join(notes, "; ") }

const outcomeRubric = `Classify the review into exactly one outcome:
- KnownLimitation: behaviour the manual documents as a limitation or expected condition.
- NeedsInvestigation: a likely product defect, safety or quality problem.
- UserMisunderstanding: misuse, or a misreading of how the product works.
Reply with JSON only: {"outcome": "<KnownLimitation|NeedsInvestigation|UserMisunderstanding>", "rationale": "<why>", "evidence": "<quote from the manual, or empty>"}`

func noEvidencePrompt(rec review.Record) string {
	return fmt.Sprintf("You are a product support engineer. No manual excerpts are available.\n\nReview (id %s, rating %d):\n%s\n\n%s",
		rec.ID, rec.Rating, rec.Text, outcomeRubric)
}

func evidencePrompt(rec review.Record, block string) string {
	return fmt.Sprintf("You are a product support engineer. Use the manual excerpts to judge the review.\n\nManual excerpts:\n%s\n\nReview (id %s, rating %d):\n%s\n\n%s",
		block, rec.ID, rec.Rating, rec.Text, outcomeRubric)
}
