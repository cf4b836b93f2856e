// Package slack posts high-priority action plans to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/lynN18he/reviewops/internal/review"
)

const (
	maxContentLen = 1500
	maxPlans      = 10 // Slack caps a message at 50 blocks
	httpTimeout   = 10 * time.Second
)

// Notifier sends action plans to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
	now        func() time.Time
}

// New creates a new Slack notifier. If webhookURL is empty, NotifyActions
// is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
		now:        time.Now,
	}
}

// NotifyActions posts the plans of one run as a single message.
func (n *Notifier) NotifyActions(ctx context.Context, runID string, plans []review.ActionPlan) error {
	if n.webhookURL == "" || len(plans) == 0 {
		return nil
	}

	body, err := json.Marshal(buildMessage(runID, plans, n.now()))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "action plans sent to slack", "run_id", runID, "plans", len(plans))
	return nil
}

func buildMessage(runID string, plans []review.ActionPlan, at time.Time) map[string]any {
	blocks := []map[string]any{headerBlock(plans), {"type": "divider"}}

	shown := plans
	if len(shown) > maxPlans {
		shown = shown[:maxPlans]
	}
	for _, p := range shown {
		blocks = append(blocks, planBlock(p))
	}
	if extra := len(plans) - len(shown); extra > 0 {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("_…and %d more_", extra),
			},
		})
	}

	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(runID, at))
	return map[string]any{"blocks": blocks}
}

func headerBlock(plans []review.ActionPlan) map[string]any {
	noun := "action plan"
	if len(plans) != 1 {
		noun = "action plans"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %d %s %s", priorityEmoji(review.PriorityHigh), len(plans), priorityLabel(plans), noun),
		},
	}
}

func priorityLabel(plans []review.ActionPlan) string {
	for _, p := range plans {
		if p.Priority != review.PriorityHigh {
			return "new"
		}
	}
	return "high-priority"
}

func planBlock(p review.ActionPlan) map[string]any {
	content := truncate(p.Content, maxContentLen)
	if content == "" {
		content = "_No content._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("%s *%s*\n%s", priorityEmoji(p.Priority), p.Title, content),
		},
		"fields": []map[string]any{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Record:* %s", p.RecordID)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", p.Kind)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", p.Priority)},
		},
	}
}

func contextBlock(runID string, at time.Time) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("reviewops • run %s • %s", runID, at.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func priorityEmoji(p review.Priority) string {
	switch p {
	case review.PriorityHigh:
		return "\U0001f534" // red circle
	case review.PriorityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// truncate cuts s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}
