package review

import "testing"

func strp(s string) *string { return &s }

func TestDecodeAttribution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     *string
		wantNil bool
		outcome Outcome
		id      string
	}{
		{"null", nil, true, "", ""},
		{"malformed", strp("{not json"), true, "", ""},
		{"array", strp(`[1,2]`), true, "", ""},
		{"current", strp(`{"record_id":"101_9","outcome":"NeedsInvestigation","rationale":"r"}`), false, OutcomeNeedsInvestigation, "101_9"},
		{"legacy", strp(`{"review_id":"102_1","conclusion":"✅ 产品已知局限","reason":"x"}`), false, OutcomeKnownLimitation, "102_1"},
		{"unknown outcome", strp(`{"record_id":"1","outcome":"maybe"}`), false, OutcomeUnclassified, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DecodeAttribution(tt.raw)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil")
			}
			if got.Outcome != tt.outcome || got.RecordID != tt.id {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestDecodeActionLegacy(t *testing.T) {
	t.Parallel()

	got := DecodeAction(strp(`{"review_id":"101_1","action_type":"Jira Ticket","title":"t","priority":"High"}`))
	if got == nil {
		t.Fatal("got nil")
	}
	if got.Kind != ActionTicket || got.Priority != PriorityHigh || got.RecordID != "101_1" {
		t.Errorf("got %+v", got)
	}
	if DecodeAction(strp("")) != nil {
		t.Error("empty string should decode to nil")
	}
}

func TestEncodeJSONNil(t *testing.T) {
	t.Parallel()

	var p *ActionPlan
	s, err := EncodeJSON(p)
	if err != nil || s != nil {
		t.Errorf("EncodeJSON(nil) = %v, %v", s, err)
	}
}
