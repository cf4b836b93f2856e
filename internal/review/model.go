package review

import (
	"strings"
	"time"
)

// Record is one ingested review. Records are immutable once created.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Rating    int       `json:"rating"`
	Source    string    `json:"source"`
	User      string    `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TemplateKey returns the stable template prefix of the record ID.
func (r *Record) TemplateKey() string {
	return TemplateKey(r.ID)
}

// TemplateKey returns the part of id before the first underscore. IDs are
// minted as templateKey_suffix, so this is the key an oracle is most likely
// to echo back when it drops the suffix.
func TemplateKey(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[:i]
	}
	return id
}

// Outcome is the attribution class of a critical record.
type Outcome string

const (
	OutcomeKnownLimitation      Outcome = "KnownLimitation"
	OutcomeNeedsInvestigation   Outcome = "NeedsInvestigation"
	OutcomeUserMisunderstanding Outcome = "UserMisunderstanding"
	OutcomeUnclassified         Outcome = "Unclassified"
)

// Retrieval records how evidence was gathered for an attribution.
type Retrieval string

const (
	// RetrievalNone means no vector store was configured.
	RetrievalNone Retrieval = "none"

	// RetrievalEmpty means retrieval ran but no chunk survived filtering.
	RetrievalEmpty Retrieval = "empty"

	// RetrievalFailed means the vector store call failed.
	RetrievalFailed Retrieval = "failed"

	// RetrievalEvidence means surviving chunks were passed to the oracle.
	RetrievalEvidence Retrieval = "evidence"
)

// AttributionResult explains why a critical record occurred.
type AttributionResult struct {
	RecordID   string    `json:"record_id"`
	RecordText string    `json:"record_text,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Rationale  string    `json:"rationale"`
	Evidence   string    `json:"evidence"`
	Retrieval  Retrieval `json:"retrieval,omitempty"`
}

// ActionKind is the remediation artifact type.
type ActionKind string

const (
	ActionTicket     ActionKind = "Ticket"
	ActionDocUpdate  ActionKind = "DocUpdate"
	ActionEmailDraft ActionKind = "EmailDraft"
	ActionMeeting    ActionKind = "Meeting"
)

// Priority of an action plan.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// RiskLevel is the persisted risk column, derived from Priority.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// RiskLevel maps a priority onto the stored risk level.
func (p Priority) RiskLevel() RiskLevel {
	switch p {
	case PriorityHigh:
		return RiskHigh
	case PriorityLow:
		return RiskLow
	default:
		return RiskMedium
	}
}

// ActionPlan is the remediation derived from one AttributionResult.
type ActionPlan struct {
	RecordID string     `json:"record_id"`
	Kind     ActionKind `json:"action_kind"`
	Title    string     `json:"title"`
	Content  string     `json:"content"`
	Priority Priority   `json:"priority"`
}

// Entry is the durable projection of a Record plus its latest analysis.
// RiskLevel is empty and Attribution/Action are nil until written.
type Entry struct {
	Record
	RiskLevel   RiskLevel          `json:"risk_level,omitempty"`
	Attribution *AttributionResult `json:"attribution,omitempty"`
	Action      *ActionPlan        `json:"action,omitempty"`
	InsertedAt  time.Time          `json:"inserted_at"`
}

// Analysis is a partial update for an Entry. Nil pointers and an empty
// RiskLevel leave the stored field untouched.
type Analysis struct {
	Attribution *AttributionResult
	Action      *ActionPlan
	RiskLevel   RiskLevel
}

// Empty reports whether the update would change nothing.
func (a Analysis) Empty() bool {
	return a.Attribution == nil && a.Action == nil && a.RiskLevel == ""
}
