package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/lynN18he/reviewops/internal/oracle"
	"github.com/lynN18he/reviewops/internal/review"
)

// SynthesizerOptions sets the values invalid oracle enums are coerced to.
type SynthesizerOptions struct {
	DefaultKind     review.ActionKind
	DefaultPriority review.Priority
	Concurrency     int
}

// DefaultSynthesizerOptions returns Ticket/Medium coercion.
func DefaultSynthesizerOptions() SynthesizerOptions {
	return SynthesizerOptions{
		DefaultKind:     review.ActionTicket,
		DefaultPriority: review.PriorityMedium,
		Concurrency:     4,
	}
}

// Synthesizer turns each attribution into a remediation plan.
type Synthesizer struct {
	oracle oracle.Oracle
	store  review.Store
	opts   SynthesizerOptions
	logger log.Logger
	hooks  Hooks
}

// NewSynthesizer returns a Synthesizer. A nil oracle yields the fallback
// plan for every attribution.
func NewSynthesizer(o oracle.Oracle, store review.Store, opts SynthesizerOptions, hooks Hooks, logger log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.DefaultKind == "" {
		opts.DefaultKind = review.ActionTicket
	}
	if opts.DefaultPriority == "" {
		opts.DefaultPriority = review.PriorityMedium
	}
	return &Synthesizer{oracle: o, store: store, opts: opts, logger: logger, hooks: hooks}
}

// Synthesize returns exactly one plan per attribution, in input order, and
// writes each back to the store with its derived risk level. Only store
// errors are returned.
func (s *Synthesizer) Synthesize(ctx context.Context, attrs []review.AttributionResult) (Update, error) {
	plans := make([]review.ActionPlan, len(attrs))
	degraded := make([]oracle.Kind, len(attrs))

	// synthesizeOne cannot fail; a bad reply degrades to the fallback plan.
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup
	for i := range attrs {
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			plans[i], degraded[i] = s.synthesizeOne(ctx, attrs[i])
		})
	}
	wg.Wait()

	var logs []string
	for i, kind := range degraded {
		if kind != "" {
			logs = append(logs, fmt.Sprintf("Synthesizer fallback for %s: oracle %s, default Ticket/Medium plan", attrs[i].RecordID, kind))
		}
	}

	for i := range plans {
		if err := s.writeBack(ctx, i, &plans[i], attrs); err != nil {
			return Update{Stage: StageSynthesize}, err
		}
		s.hooks.action(string(plans[i].Kind), string(plans[i].Priority))
	}

	logs = append(logs, fmt.Sprintf("Synthesizer: %d action plans (%s)", len(plans), summarizePlans(plans)))
	return Update{Stage: StageSynthesize, Actions: plans, Logs: logs}, nil
}

// writeBack pairs plan i with its attribution and persists it. Plans whose
// echoed ID matches nothing are paired by position.
func (s *Synthesizer) writeBack(ctx context.Context, i int, plan *review.ActionPlan, attrs []review.AttributionResult) error {
	idx, tier := Resolve(plan.RecordID, i, attrs, attributionID)
	s.hooks.resolved(tier)
	if tier == TierPosition {
		s.logger.Warn(ctx, "action plan paired by position",
			"echoed_id", plan.RecordID,
			"paired_id", attrs[idx].RecordID,
		)
	}
	if idx != i {
		s.logger.Warn(ctx, "action plan resolved to a different attribution",
			"position", i,
			"resolved", idx,
			"record_id", attrs[idx].RecordID,
		)
	}
	plan.RecordID = attrs[idx].RecordID

	if s.store == nil {
		return nil
	}
	ok, err := s.store.UpdateAnalysis(ctx, plan.RecordID, review.Analysis{
		Action:    plan,
		RiskLevel: plan.Priority.RiskLevel(),
	})
	if err != nil {
		return fmt.Errorf("%w: update action %s: %w", review.ErrStore, plan.RecordID, err)
	}
	if !ok {
		s.logger.Warn(ctx, "action for unknown record not persisted", "record_id", plan.RecordID)
	}
	return nil
}

// synthesizeOne never fails. kind is set when the fallback plan was used.
func (s *Synthesizer) synthesizeOne(ctx context.Context, attr review.AttributionResult) (review.ActionPlan, oracle.Kind) {
	plan, err := s.ask(ctx, attr)
	if err == nil {
		return plan, ""
	}
	fail := oracle.Classify(err)
	s.hooks.degrade(StageSynthesize, fail.Kind)
	s.logger.Warn(ctx, "synthesis oracle unusable, using default plan",
		"record_id", attr.RecordID,
		"kind", fail.Kind,
		"error", err,
		"excerpt", fail.Excerpt,
	)
	return FallbackPlan(attr), fail.Kind
}

// FallbackPlan is the plan used when the oracle gives nothing usable.
func FallbackPlan(attr review.AttributionResult) review.ActionPlan {
	content := attr.RecordText
	if content == "" {
		content = attr.Rationale
	}
	return review.ActionPlan{
		RecordID: attr.RecordID,
		Kind:     review.ActionTicket,
		Title:    "Process review " + attr.RecordID,
		Content:  content,
		Priority: review.PriorityMedium,
	}
}

func (s *Synthesizer) ask(ctx context.Context, attr review.AttributionResult) (review.ActionPlan, error) {
	if s.oracle == nil {
		return review.ActionPlan{}, &oracle.Failure{Kind: oracle.KindUnavailable, Err: errNoOracle}
	}
	text, err := oracle.Call(ctx, s.oracle, synthesisPrompt(attr))
	if err != nil {
		return review.ActionPlan{}, err
	}
	obj, err := oracle.ExtractObject(text)
	if err != nil {
		return review.ActionPlan{}, err
	}

	plan := review.ActionPlan{
		RecordID: firstNonEmpty(obj.Get("record_id").String(), obj.Get("review_id").String()),
		Kind:     s.opts.DefaultKind,
		Priority: s.opts.DefaultPriority,
		Title:    strings.TrimSpace(obj.Get("title").String()),
		Content:  strings.TrimSpace(obj.Get("content").String()),
	}
	if k, ok := review.ParseActionKind(firstNonEmpty(obj.Get("action_type").String(), obj.Get("action_kind").String())); ok {
		plan.Kind = k
	}
	if p, ok := review.ParsePriority(obj.Get("priority").String()); ok {
		plan.Priority = p
	}
	if plan.Title == "" {
		plan.Title = "Process review " + attr.RecordID
	}
	if plan.Content == "" {
		plan.Content = firstNonEmpty(attr.RecordText, attr.Rationale)
	}
	return plan, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func summarizePlans(plans []review.ActionPlan) string {
	if len(plans) == 0 {
		return "none"
	}
	counts := map[review.Priority]int{}
	for _, p := range plans {
		counts[p.Priority]++
	}
	return fmt.Sprintf("high %d, medium %d, low %d",
		counts[review.PriorityHigh], counts[review.PriorityMedium], counts[review.PriorityLow])
}

func synthesisPrompt(attr review.AttributionResult) string {
	var b strings.Builder
	b.WriteString("You are a customer operations lead. Decide the follow-up for this attributed review.\n\n")
	fmt.Fprintf(&b, "record_id: %s\noutcome: %s\nrationale: %s\nevidence: %s\nreview: %s\n\n",
		attr.RecordID, attr.Outcome, attr.Rationale, attr.Evidence, attr.RecordText)
	b.WriteString("Decision rubric:\n")
	b.WriteString("- product defect or safety problem: Ticket\n")
	b.WriteString("- user confusion caused by documentation: DocUpdate or EmailDraft\n")
	b.WriteString("- logistics or account issue: EmailDraft\n")
	b.WriteString("- ambiguous or cross-team: Meeting\n")
	b.WriteString("Priority is High for safety risk, Medium for functional problems, Low otherwise.\n\n")
	b.WriteString(`Reply with JSON only: {"record_id": "<record_id>", "action_type": "<Ticket|DocUpdate|EmailDraft|Meeting>", "title": "<short title>", "content": "<body>", "priority": "<High|Medium|Low>"}`)
	return b.String()
}
