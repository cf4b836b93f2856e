package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/tidwall/gjson"

	"github.com/lynN18he/reviewops/internal/oracle"
	"github.com/lynN18he/reviewops/internal/review"
)

// DefaultKeywords is the fault, safety and quality vocabulary used by the
// fallback rule.
var DefaultKeywords = []string{
	"故障", "失效", "问题", "坏", "不工作",
	"安全", "危险", "质量", "避障", "抖动",
	"不稳定", "撞", "差点", "虚标", "欺骗",
}

// FilterOptions tunes the fallback rule.
type FilterOptions struct {
	RatingThreshold int
	Keywords        []string
}

// DefaultFilterOptions returns the classifier defaults.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		RatingThreshold: 3,
		Keywords:        append([]string(nil), DefaultKeywords...),
	}
}

// Filter flags the records of a batch that carry a risk signal.
type Filter struct {
	oracle oracle.Oracle
	opts   FilterOptions
	logger log.Logger
	hooks  Hooks
}

// NewFilter returns a Filter. A nil oracle runs the fallback rule on every
// batch.
func NewFilter(o oracle.Oracle, opts FilterOptions, hooks Hooks, logger log.Logger) *Filter {
	if logger == nil {
		logger = log.Nop()
	}
	return &Filter{oracle: o, opts: opts, logger: logger, hooks: hooks}
}

var errNoOracle = errors.New("no oracle configured")

// Classify returns the critical subset of records in batch order. It never
// fails: any oracle problem selects the rating and keyword rule.
func (f *Filter) Classify(ctx context.Context, records []review.Record) Update {
	if len(records) == 0 {
		return Update{
			Stage: StageClassify,
			Logs:  []string{"Filter: no new reviews to classify"},
		}
	}

	critical, reason, err := f.ask(ctx, records)
	if err == nil {
		return Update{
			Stage:   StageClassify,
			Records: critical,
			Logs: []string{fmt.Sprintf("Filter: %d of %d reviews flagged critical (%s)",
				len(critical), len(records), reason)},
		}
	}

	fail := oracle.Classify(err)
	f.hooks.degrade(StageClassify, fail.Kind)
	f.logger.Warn(ctx, "filter oracle unusable, using fallback rule",
		"kind", fail.Kind,
		"error", err,
		"excerpt", fail.Excerpt,
	)

	critical = f.fallback(records)
	return Update{
		Stage:   StageClassify,
		Records: critical,
		Logs: []string{fmt.Sprintf("Filter fallback (oracle %s): rating < %d or keyword rule flagged %d of %d reviews",
			fail.Kind, f.opts.RatingThreshold, len(critical), len(records))},
	}
}

func (f *Filter) ask(ctx context.Context, records []review.Record) ([]review.Record, string, error) {
	if f.oracle == nil {
		return nil, "", &oracle.Failure{Kind: oracle.KindUnavailable, Err: errNoOracle}
	}
	text, err := oracle.Call(ctx, f.oracle, classifyPrompt(records))
	if err != nil {
		return nil, "", err
	}
	doc, err := oracle.ExtractJSON(text)
	if err != nil {
		return nil, "", err
	}

	var ids gjson.Result
	reason := "oracle"
	switch {
	case doc.IsArray():
		ids = doc
	case doc.Get("critical_review_ids").Exists():
		ids = doc.Get("critical_review_ids")
		if r := strings.TrimSpace(doc.Get("reason").String()); r != "" {
			reason = r
		}
	case doc.Get("critical_ids").Exists():
		ids = doc.Get("critical_ids")
	default:
		return nil, "", &oracle.Failure{
			Kind:    oracle.KindParse,
			Err:     errors.New("missing critical_review_ids"),
			Excerpt: oracle.Excerpt(text, oracle.ExcerptLen),
		}
	}
	if !ids.IsArray() {
		return nil, "", &oracle.Failure{
			Kind:    oracle.KindParse,
			Err:     errors.New("critical_review_ids is not a list"),
			Excerpt: oracle.Excerpt(text, oracle.ExcerptLen),
		}
	}

	flagged := make([]bool, len(records))
	for _, v := range ids.Array() {
		i, tier := Resolve(strings.TrimSpace(v.String()), -1, records, recordID)
		if i < 0 {
			f.logger.Warn(ctx, "filter oracle returned unknown id", "id", v.String())
			continue
		}
		f.hooks.resolved(tier)
		flagged[i] = true
	}

	var out []review.Record
	for i, r := range records {
		if flagged[i] {
			out = append(out, r)
		}
	}
	return out, reason, nil
}

// fallback flags records rated below the threshold or mentioning a keyword.
func (f *Filter) fallback(records []review.Record) []review.Record {
	var out []review.Record
	for _, r := range records {
		if r.Rating < f.opts.RatingThreshold || containsAny(r.Text, f.opts.Keywords) {
			out = append(out, r)
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func classifyPrompt(records []review.Record) string {
	var b strings.Builder
	b.WriteString("You are a product quality analyst. Read the reviews below and pick the ones that ")
	b.WriteString("report a safety risk, a hardware or software fault, a quality defect or misleading claims.\n\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- id: %s | rating: %d | text: %s\n", r.ID, r.Rating, r.Text)
	}
	b.WriteString("\nReply with JSON only, exactly in this shape:\n")
	b.WriteString(`{"critical_review_ids": ["<id>", ...], "reason": "<one sentence>"}`)
	b.WriteString("\nUse the ids exactly as given. Return an empty list when nothing is critical.")
	return b.String()
}
