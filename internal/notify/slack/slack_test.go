package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/lynN18he/reviewops/internal/review"
)

func plan(id string, p review.Priority) review.ActionPlan {
	return review.ActionPlan{
		RecordID: id,
		Kind:     review.ActionTicket,
		Title:    "Investigate gimbal drift",
		Content:  "云台抖动，疑似硬件质量问题。",
		Priority: p,
	}
}

func TestNotifyActions_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	n.now = func() time.Time { return time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC) }

	plans := []review.ActionPlan{plan("102_1", review.PriorityHigh), plan("103_1", review.PriorityHigh)}
	if err := n.NotifyActions(context.Background(), "01JN123", plans); err != nil {
		t.Fatalf("NotifyActions: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, 2 plans, divider, context
	if len(blocks) != 6 {
		t.Fatalf("blocks count = %d, want 6", len(blocks))
	}

	header := blocks[0].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(header, "2 high-priority action plans") || !strings.Contains(header, "\U0001f534") {
		t.Errorf("header text = %q", header)
	}

	ctxText := blocks[5].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "01JN123") || !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context text = %q", ctxText)
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	if !strings.Contains(fields[0].(map[string]any)["text"].(string), "102_1") {
		t.Errorf("first plan fields = %v", fields)
	}
}

func TestNotifyActions_NoOp(t *testing.T) {
	t.Parallel()

	if err := New("", nil).NotifyActions(context.Background(), "r", []review.ActionPlan{plan("a", review.PriorityHigh)}); err != nil {
		t.Fatalf("empty URL should be no-op, got: %v", err)
	}
	if err := New("http://127.0.0.1:1", nil).NotifyActions(context.Background(), "r", nil); err != nil {
		t.Fatalf("no plans should be no-op, got: %v", err)
	}
}

func TestBuildMessage_CapsPlans(t *testing.T) {
	t.Parallel()

	var plans []review.ActionPlan
	for range maxPlans + 3 {
		plans = append(plans, plan("x", review.PriorityHigh))
	}
	msg := buildMessage("r", plans, time.Now())
	blocks := msg["blocks"].([]map[string]any)

	// header, divider, maxPlans plans, "more" note, divider, context
	if len(blocks) != maxPlans+5 {
		t.Fatalf("blocks = %d, want %d", len(blocks), maxPlans+5)
	}
	more := blocks[2+maxPlans]["text"].(map[string]any)["text"].(string)
	if !strings.Contains(more, "3 more") {
		t.Errorf("overflow note = %q", more)
	}
}

func TestTruncate_RuneSafe(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("质", maxContentLen+100)
	got := truncate(s, maxContentLen)
	if !utf8.ValidString(got) {
		t.Fatal("truncate split a rune")
	}
	if utf8.RuneCountInString(got) != maxContentLen {
		t.Fatalf("runes = %d, want %d", utf8.RuneCountInString(got), maxContentLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected truncated content to end with ...")
	}
	if truncate("short", maxContentLen) != "short" {
		t.Error("short string changed")
	}
}

func TestPriorityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		priority review.Priority
		want     string
	}{
		{review.PriorityHigh, "\U0001f534"},
		{review.PriorityMedium, "\U0001f7e1"},
		{review.PriorityLow, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			t.Parallel()
			if got := priorityEmoji(tt.priority); got != tt.want {
				t.Errorf("priorityEmoji(%q) = %q, want %q", tt.priority, got, tt.want)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("102_1", "Fix gimbal", "云台抖动", "High")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold* _italic_", "```code``` <http://example.com|link>", "Low")
	f.Add("id\x00\x01", "title\nline", "content\ttab", "weird")
	f.Add(strings.Repeat("A", 5000), strings.Repeat("t", 3000), strings.Repeat("质", 10000), "Medium")

	f.Fuzz(func(t *testing.T, id, title, content, priority string) {
		msg := buildMessage("fuzz-run", []review.ActionPlan{{
			RecordID: id,
			Kind:     review.ActionTicket,
			Title:    title,
			Content:  content,
			Priority: review.Priority(priority),
		}}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if blocks, ok := decoded["blocks"].([]any); !ok || len(blocks) != 5 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}

func TestNotifyActions_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).NotifyActions(context.Background(), "r", []review.ActionPlan{plan("a", review.PriorityHigh)})
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}
