package pipeline

import "github.com/lynN18he/reviewops/internal/review"

// Tier is the precedence level at which Resolve matched.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierTemplate
	TierPosition
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierTemplate:
		return "template"
	case TierPosition:
		return "position"
	default:
		return "none"
	}
}

// Resolve maps an ID echoed by the oracle onto one of candidates:
//
//  1. exact ID match;
//  2. template-key match (the part before the first "_"), for oracles that
//     drop the suffix;
//  3. position: candidates[index], when index is in range.
//
// Pass index < 0 to disable tier 3. It returns the candidate index, or -1
// with TierNone.
func Resolve[T any](id string, index int, candidates []T, key func(T) string) (int, Tier) {
	if id != "" {
		for i, c := range candidates {
			if key(c) == id {
				return i, TierExact
			}
		}
		tk := review.TemplateKey(id)
		for i, c := range candidates {
			if review.TemplateKey(key(c)) == tk {
				return i, TierTemplate
			}
		}
	}
	if index >= 0 && index < len(candidates) {
		return index, TierPosition
	}
	return -1, TierNone
}

func recordID(r review.Record) string { return r.ID }

func attributionID(a review.AttributionResult) string { return a.RecordID }
