package memory

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/llm"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
)

// storeBackends returns a fresh instance of every Store implementation,
// so the contract tests run identically against both.
func storeBackends(t *testing.T, maxMessages int) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fixie.db"), maxMessages)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(maxMessages),
		"sqlite": sqliteStore,
	}
}

func testDraft() *ticketing.Draft {
	return &ticketing.Draft{
		Subject:     "VPN keeps disconnecting",
		Description: "Drops every few minutes",
		Priority:    ticketing.PriorityHigh,
		Email:       "sam@example.com",
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, store := range storeBackends(t, 0) {
		t.Run(name, func(t *testing.T) {
			conv := &Conversation{ID: "c1", UserID: "u1", UserEmail: "sam@example.com"}
			if err := store.Create(conv); err != nil {
				t.Fatalf("Create: %v", err)
			}

			got, err := store.Get("c1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ID != "c1" || got.UserID != "u1" || got.UserEmail != "sam@example.com" {
				t.Errorf("unexpected conversation %+v", got)
			}
			if got.AwaitingApproval || got.Draft != nil {
				t.Errorf("new conversation must not await approval: %+v", got)
			}
			if got.UpdatedAt.IsZero() || got.CreatedAt.IsZero() {
				t.Error("timestamps not set")
			}

			if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreAppendAndTranscript(t *testing.T) {
	for name, store := range storeBackends(t, 0) {
		t.Run(name, func(t *testing.T) {
			if err := store.Create(&Conversation{ID: "c1"}); err != nil {
				t.Fatal(err)
			}

			msgs := []Message{
				{ID: "m1", Role: "user", Content: "my wifi is down"},
				{
					ID:   "m2",
					Role: "assistant",
					ToolCalls: []llm.ToolCall{
						llm.NewToolCall("call_1", "draft_ticket_details", map[string]any{"subject": "wifi"}),
					},
				},
				{ID: "m3", Role: "tool", Content: "preview text", ToolCallID: "call_1"},
				{ID: "m4", Role: "assistant", Content: "Here is the preview."},
			}
			if err := store.Append("c1", msgs...); err != nil {
				t.Fatalf("Append: %v", err)
			}

			got, err := store.Get("c1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Messages) != 4 {
				t.Fatalf("expected 4 messages, got %d", len(got.Messages))
			}
			if got.Messages[1].ToolCalls[0].Function.Name != "draft_ticket_details" {
				t.Errorf("tool calls not preserved: %+v", got.Messages[1])
			}
			if got.Messages[2].ToolCallID != "call_1" {
				t.Errorf("tool call ID not preserved: %+v", got.Messages[2])
			}

			wire := got.ModelMessages()
			if len(wire) != 4 || wire[0].Role != "user" || wire[3].Content != "Here is the preview." {
				t.Errorf("unexpected wire transcript %+v", wire)
			}

			if err := store.Append("missing", Message{ID: "x", Role: "user"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreMessageCap(t *testing.T) {
	for name, store := range storeBackends(t, 5) {
		t.Run(name, func(t *testing.T) {
			if err := store.Create(&Conversation{ID: "c1"}); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 8; i++ {
				msg := Message{ID: fmt.Sprintf("m%d", i), Role: "user", Content: fmt.Sprintf("msg %d", i)}
				if err := store.Append("c1", msg); err != nil {
					t.Fatal(err)
				}
			}

			got, err := store.Get("c1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Messages) != 5 {
				t.Fatalf("expected 5 messages after trim, got %d", len(got.Messages))
			}
			if got.Messages[0].Content != "msg 3" {
				t.Errorf("oldest messages should be trimmed, got %q first", got.Messages[0].Content)
			}
		})
	}
}

func TestStoreUpdateState(t *testing.T) {
	for name, store := range storeBackends(t, 0) {
		t.Run(name, func(t *testing.T) {
			if err := store.Create(&Conversation{ID: "c1"}); err != nil {
				t.Fatal(err)
			}

			draft := testDraft()
			if err := store.UpdateState("c1", "ticket_analysis", draft, true); err != nil {
				t.Fatalf("UpdateState: %v", err)
			}

			got, err := store.Get("c1")
			if err != nil {
				t.Fatal(err)
			}
			if !got.AwaitingApproval || got.ActiveBehavior != "ticket_analysis" {
				t.Errorf("state not recorded: %+v", got)
			}
			if got.Draft == nil || *got.Draft != *draft {
				t.Errorf("draft not preserved: %+v", got.Draft)
			}

			// Resolving the approval clears the draft.
			if err := store.UpdateState("c1", "general", nil, false); err != nil {
				t.Fatal(err)
			}
			got, err = store.Get("c1")
			if err != nil {
				t.Fatal(err)
			}
			if got.AwaitingApproval || got.Draft != nil {
				t.Errorf("approval state not cleared: %+v", got)
			}

			if err := store.UpdateState("missing", "general", nil, false); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, store := range storeBackends(t, 0) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"c1", "c2", "c3"} {
				if err := store.Create(&Conversation{ID: id}); err != nil {
					t.Fatal(err)
				}
				time.Sleep(2 * time.Millisecond)
			}
			// Touch c1 so it sorts first.
			if err := store.Append("c1", Message{ID: "m1", Role: "user", Content: "hi"}); err != nil {
				t.Fatal(err)
			}

			convs, err := store.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(convs) != 3 {
				t.Fatalf("expected 3 conversations, got %d", len(convs))
			}
			if convs[0].ID != "c1" {
				t.Errorf("expected most recently updated first, got %q", convs[0].ID)
			}

			if err := store.Delete("c2"); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Get("c2"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
			if err := store.Delete("never-existed"); err != nil {
				t.Errorf("deleting a missing ID must not error: %v", err)
			}
		})
	}
}

func TestMemoryStoreCopyOnRead(t *testing.T) {
	store := NewMemoryStore(0)
	if err := store.Create(&Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Append("c1", Message{ID: "m1", Role: "user", Content: "original"}); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get("c1")
	got.Messages[0].Content = "mutated"
	got.Draft = testDraft()

	again, _ := store.Get("c1")
	if again.Messages[0].Content != "original" {
		t.Error("caller mutation leaked into the store")
	}
	if again.Draft != nil {
		t.Error("caller draft leaked into the store")
	}
}

func TestStoreStats(t *testing.T) {
	for name, store := range storeBackends(t, 0) {
		t.Run(name, func(t *testing.T) {
			if err := store.Create(&Conversation{ID: "c1"}); err != nil {
				t.Fatal(err)
			}
			if err := store.Append("c1", Message{ID: "m1", Role: "user", Content: "hi"}); err != nil {
				t.Fatal(err)
			}
			if err := store.UpdateState("c1", "ticket_analysis", testDraft(), true); err != nil {
				t.Fatal(err)
			}

			stats := store.Stats()
			if stats["conversations"] != 1 {
				t.Errorf("unexpected conversations stat: %v", stats["conversations"])
			}
			if stats["awaiting_approval"] != 1 {
				t.Errorf("unexpected awaiting stat: %v", stats["awaiting_approval"])
			}
		})
	}
}
