package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

func TestRouteEscalationKeywords(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"create ticket", "please create ticket for this", BehaviorTicketAnalysis},
		{"create a ticket", "can you create a ticket?", BehaviorTicketAnalysis},
		{"open ticket", "open ticket about my VPN", BehaviorTicketAnalysis},
		{"submit ticket", "I want to submit ticket now", BehaviorTicketAnalysis},
		{"escalate", "this needs to escalate", BehaviorTicketAnalysis},
		{"human help", "I need human help", BehaviorTicketAnalysis},
		{"support team", "get me the support team", BehaviorTicketAnalysis},
		{"manager", "let me talk to your manager", BehaviorTicketAnalysis},
		{"case insensitive", "ESCALATE THIS NOW", BehaviorTicketAnalysis},
		{"mid-word manager", "our account managers are unhappy", BehaviorTicketAnalysis},
		{"plain question", "my printer won't print", BehaviorGeneral},
		{"ticket alone is not enough", "I bought a ticket to the conference", BehaviorGeneral},
		{"empty message", "", BehaviorGeneral},
		{"greeting", "hello, can you help me?", BehaviorGeneral},
	}

	r := NewRouter(nil, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, decision := r.Route(context.Background(), Request{ConversationID: "c1", Message: tt.message})
			if got != tt.want {
				t.Errorf("Route(%q) = %q, want %q", tt.message, got, tt.want)
			}
			if decision.BehaviorSelected != got {
				t.Errorf("decision records %q, route returned %q", decision.BehaviorSelected, got)
			}
			if tt.want == BehaviorTicketAnalysis && len(decision.KeywordsMatched) == 0 {
				t.Error("escalation decision has no matched keywords")
			}
		})
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	r := NewRouter(nil, 0)
	msg := "please escalate, I need the support team"
	first, _ := r.Route(context.Background(), Request{Message: msg})
	for i := 0; i < 5; i++ {
		got, _ := r.Route(context.Background(), Request{Message: msg})
		if got != first {
			t.Fatalf("routing not deterministic: %q then %q", first, got)
		}
	}
}

func TestAuditLogAndStats(t *testing.T) {
	r := NewRouter(nil, 3)

	messages := []string{"hi", "escalate please", "what's my IP", "open ticket", "manager now"}
	for _, m := range messages {
		r.Route(context.Background(), Request{ConversationID: "c2", Message: m})
	}

	log := r.GetAuditLog(0)
	if len(log) != 3 {
		t.Errorf("audit log should be capped at 3, got %d", len(log))
	}
	// Most recent decision is last.
	if log[len(log)-1].BehaviorSelected != BehaviorTicketAnalysis {
		t.Errorf("unexpected last decision: %+v", log[len(log)-1])
	}

	stats := r.GetStats()
	if stats.TotalRequests != 5 {
		t.Errorf("expected 5 total requests, got %d", stats.TotalRequests)
	}
	if stats.BehaviorCounts[BehaviorTicketAnalysis] != 3 {
		t.Errorf("expected 3 escalations, got %d", stats.BehaviorCounts[BehaviorTicketAnalysis])
	}
	if stats.BehaviorCounts[BehaviorGeneral] != 2 {
		t.Errorf("expected 2 general, got %d", stats.BehaviorCounts[BehaviorGeneral])
	}
}

func TestExplain(t *testing.T) {
	r := NewRouter(nil, 0)
	_, d := r.Route(context.Background(), Request{ConversationID: "c3", Message: "human help please"})

	got := r.Explain(d.RequestID)
	if got == nil {
		t.Fatal("expected recorded decision")
	}
	if got.BehaviorSelected != BehaviorTicketAnalysis {
		t.Errorf("unexpected behavior %q", got.BehaviorSelected)
	}
	if r.Explain("no-such-id") != nil {
		t.Error("expected nil for unknown request ID")
	}
}

func TestGetStatsSnapshotIsolation(t *testing.T) {
	r := NewRouter(nil, 0)
	r.Route(context.Background(), Request{ConversationID: "c4", Message: "escalate"})

	stats := r.GetStats()
	stats.BehaviorCounts[BehaviorTicketAnalysis] = 999
	stats.KeywordCounts["escalate"] = 999

	fresh := r.GetStats()
	if fresh.BehaviorCounts[BehaviorTicketAnalysis] != 1 {
		t.Errorf("snapshot mutation leaked into router: %d", fresh.BehaviorCounts[BehaviorTicketAnalysis])
	}
	if fresh.KeywordCounts["escalate"] != 1 {
		t.Errorf("snapshot mutation leaked into router: %d", fresh.KeywordCounts["escalate"])
	}
}

func TestGetStatsConcurrentWithRoute(t *testing.T) {
	r := NewRouter(nil, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Route(context.Background(), Request{ConversationID: "c5", Message: "open ticket please"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := json.Marshal(r.GetStats()); err != nil {
				t.Errorf("marshal stats: %v", err)
			}
		}
	}()
	wg.Wait()

	if got := r.GetStats().TotalRequests; got != 200 {
		t.Errorf("expected 200 requests, got %d", got)
	}
}
