package review

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// legacyConclusions maps the labelled conclusions written by earlier
// versions of the attribution stage onto outcomes.
var legacyConclusions = []struct {
	marker  string
	outcome Outcome
}{
	{"已知局限", OutcomeKnownLimitation},
	{"进一步调查", OutcomeNeedsInvestigation},
	{"用户使用问题", OutcomeUserMisunderstanding},
	{"用户误", OutcomeUserMisunderstanding},
}

// EncodeJSON serializes v for a nullable text column. A nil pointer yields nil.
func EncodeJSON[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// DecodeAttribution reads an attribution column. Null, empty or malformed
// values decode to nil; rows written before the outcome/rationale naming
// (conclusion/reason/review_id) are accepted.
func DecodeAttribution(raw *string) *AttributionResult {
	if raw == nil || !gjson.Valid(*raw) {
		return nil
	}
	doc := gjson.Parse(*raw)
	if !doc.IsObject() {
		return nil
	}
	a := &AttributionResult{
		RecordID:   firstString(doc, "record_id", "review_id"),
		RecordText: firstString(doc, "record_text", "review_text"),
		Rationale:  firstString(doc, "rationale", "reason"),
		Evidence:   doc.Get("evidence").String(),
		Retrieval:  Retrieval(doc.Get("retrieval").String()),
		Outcome:    OutcomeUnclassified,
	}
	label := firstString(doc, "outcome", "conclusion")
	if o, ok := ParseOutcome(label); ok {
		a.Outcome = o
	} else {
		for _, lc := range legacyConclusions {
			if strings.Contains(label, lc.marker) {
				a.Outcome = lc.outcome
				break
			}
		}
	}
	return a
}

// DecodeAction reads an action column with the same tolerance as
// DecodeAttribution.
func DecodeAction(raw *string) *ActionPlan {
	if raw == nil || !gjson.Valid(*raw) {
		return nil
	}
	doc := gjson.Parse(*raw)
	if !doc.IsObject() {
		return nil
	}
	p := &ActionPlan{
		RecordID: firstString(doc, "record_id", "review_id"),
		Title:    doc.Get("title").String(),
		Content:  doc.Get("content").String(),
		Kind:     ActionTicket,
		Priority: PriorityMedium,
	}
	if k, ok := ParseActionKind(firstString(doc, "action_kind", "action_type")); ok {
		p.Kind = k
	}
	if pr, ok := ParsePriority(doc.Get("priority").String()); ok {
		p.Priority = pr
	}
	return p
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() {
			return v.String()
		}
	}
	return ""
}
