package review

import "strings"

// normalize folds case and strips separators so "Jira Ticket", "jira_ticket"
// and "JiraTicket" compare equal.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

var outcomeAliases = map[string]Outcome{
	"knownlimitation":      OutcomeKnownLimitation,
	"limitation":           OutcomeKnownLimitation,
	"needsinvestigation":   OutcomeNeedsInvestigation,
	"investigate":          OutcomeNeedsInvestigation,
	"defect":               OutcomeNeedsInvestigation,
	"usermisunderstanding": OutcomeUserMisunderstanding,
	"usererror":            OutcomeUserMisunderstanding,
	"misuse":               OutcomeUserMisunderstanding,
	"unclassified":         OutcomeUnclassified,
}

// ParseOutcome maps oracle output onto an Outcome. Unknown values report false.
func ParseOutcome(s string) (Outcome, bool) {
	o, ok := outcomeAliases[normalize(s)]
	return o, ok
}

var actionKindAliases = map[string]ActionKind{
	"ticket":     ActionTicket,
	"jiraticket": ActionTicket,
	"jira":       ActionTicket,
	"docupdate":  ActionDocUpdate,
	"doc":        ActionDocUpdate,
	"emaildraft": ActionEmailDraft,
	"email":      ActionEmailDraft,
	"meeting":    ActionMeeting,
}

// ParseActionKind maps oracle output onto an ActionKind.
func ParseActionKind(s string) (ActionKind, bool) {
	k, ok := actionKindAliases[normalize(s)]
	return k, ok
}

// ParsePriority maps oracle output onto a Priority.
func ParsePriority(s string) (Priority, bool) {
	switch normalize(s) {
	case "high", "p0", "urgent":
		return PriorityHigh, true
	case "medium", "p1", "normal":
		return PriorityMedium, true
	case "low", "p2":
		return PriorityLow, true
	}
	return "", false
}

// ParseRiskLevel accepts only the three stored values.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskHigh, RiskMedium, RiskLow:
		return RiskLevel(s), true
	}
	return "", false
}
