package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/agent"
	"github.com/fixie-ai/fixie-agent/internal/llm"
	"github.com/fixie-ai/fixie-agent/internal/memory"
	"github.com/fixie-ai/fixie-agent/internal/orchestrator"
	"github.com/fixie-ai/fixie-agent/internal/router"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
	"github.com/fixie-ai/fixie-agent/internal/tools"
)

type mockLLMClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	callIndex int
}

func (m *mockLLMClient) Chat(_ context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callIndex >= len(m.responses) {
		return nil, fmt.Errorf("mock: no more responses")
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

func (m *mockLLMClient) Ping(context.Context) error { return nil }

type fakeGateway struct {
	mu      sync.Mutex
	created []ticketing.Draft
}

func (f *fakeGateway) CreateTicket(_ context.Context, draft ticketing.Draft) (*ticketing.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, draft)
	return &ticketing.Ticket{
		ID:       "4242",
		URL:      "https://example.freshdesk.com/a/tickets/4242",
		Priority: draft.Priority,
	}, nil
}

func newTestServer(t *testing.T, responses ...*llm.ChatResponse) (*httptest.Server, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{}
	reg := tools.NewRegistry(gw, time.Second, nil)
	runner := agent.NewRunner(nil, &mockLLMClient{responses: responses}, reg, "gpt-4o", 0)
	store := memory.NewMemoryStore(0)
	rtr := router.NewRouter(nil, 0)
	orch := orchestrator.New(nil, store, rtr, runner, reg)

	srv := NewServer("127.0.0.1:0", orch, rtr, nil)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, gw
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: content}}
}

func draftResponse() *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{
				llm.NewToolCall("call_1", tools.DraftTicketAction, map[string]any{
					"subject":     "VPN keeps disconnecting",
					"description": "Drops every few minutes",
					"priority":    "3",
					"email":       "sam@example.com",
				}),
			},
		},
	}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestChatPlainMessage(t *testing.T) {
	ts, gw := newTestServer(t, textResponse("Try restarting the router."))

	resp, body := postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": "c1",
		"message":        "my wifi is down",
		"userId":         "u1",
		"userEmail":      "sam@example.com",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatal(err)
	}
	if !cr.Success || cr.Content != "Try restarting the router." {
		t.Errorf("unexpected response %+v", cr)
	}
	if cr.MessageID == "" || cr.ConversationID != "c1" {
		t.Errorf("missing identifiers %+v", cr)
	}
	if cr.NeedsApproval || cr.TicketCreated {
		t.Errorf("unexpected ticket state %+v", cr)
	}
	if len(gw.created) != 0 {
		t.Error("no ticket should be filed")
	}
}

func TestChatEscalationReturnsApprovalButtons(t *testing.T) {
	ts, _ := newTestServer(t, draftResponse())

	_, body := postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": "c1",
		"message":        "please create a ticket",
	})

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatal(err)
	}
	if !cr.NeedsApproval {
		t.Fatalf("expected approval prompt, got %+v", cr)
	}
	if cr.TicketSummary != "VPN keeps disconnecting" {
		t.Errorf("unexpected summary %q", cr.TicketSummary)
	}
	if cr.InteractiveButtons == nil || cr.InteractiveButtons.Type != "ticket_approval" {
		t.Fatalf("missing buttons %+v", cr.InteractiveButtons)
	}
	if len(cr.InteractiveButtons.Buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(cr.InteractiveButtons.Buttons))
	}
	approve := cr.InteractiveButtons.Buttons[0]
	if approve.Action != orchestrator.ActionApproveTicket || approve.Data == nil {
		t.Errorf("approve button must carry the draft: %+v", approve)
	}
	if !strings.Contains(cr.Content, "Would you like me to proceed") {
		t.Errorf("expected preview content, got %q", cr.Content)
	}
}

func TestChatApproveCreatesTicket(t *testing.T) {
	ts, gw := newTestServer(t, draftResponse())

	// Draft first.
	_, body := postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": "c1",
		"message":        "open ticket for my vpn",
	})
	var drafted chatResponse
	if err := json.Unmarshal(body, &drafted); err != nil {
		t.Fatal(err)
	}

	// Approve with the draft the buttons carried.
	_, body = postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": "c1",
		"action":         orchestrator.ActionApproveTicket,
		"ticketData":     drafted.InteractiveButtons.Buttons[0].Data,
	})
	var approved chatResponse
	if err := json.Unmarshal(body, &approved); err != nil {
		t.Fatal(err)
	}
	if !approved.TicketCreated || approved.TicketID != "4242" {
		t.Errorf("expected filed ticket, got %+v", approved)
	}
	if approved.TicketNumber != approved.TicketID {
		t.Errorf("ticketNumber should mirror ticketId, got %q and %q", approved.TicketNumber, approved.TicketID)
	}
	if !strings.Contains(approved.Content, "Ticket ID: #4242") {
		t.Errorf("confirmation missing, got %q", approved.Content)
	}
	if len(gw.created) != 1 {
		t.Errorf("expected 1 gateway call, got %d", len(gw.created))
	}
}

func TestChatDecline(t *testing.T) {
	ts, gw := newTestServer(t, draftResponse())

	postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": "c1",
		"message":        "escalate",
	})
	_, body := postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": "c1",
		"action":         orchestrator.ActionDeclineTicket,
	})

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatal(err)
	}
	if cr.TicketCreated || cr.NeedsApproval {
		t.Errorf("unexpected state %+v", cr)
	}
	if !strings.Contains(cr.Content, "don't want to create a ticket") {
		t.Errorf("unexpected decline text %q", cr.Content)
	}
	if len(gw.created) != 0 {
		t.Error("decline must not file a ticket")
	}
}

func TestChatValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing conversation", map[string]any{"message": "hi"}},
		{"missing message", map[string]any{"conversationId": "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := postJSON(t, ts.URL+"/chat", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestConversationLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, textResponse("hello!"))

	// Create.
	resp, body := postJSON(t, ts.URL+"/conversations", map[string]any{"userId": "u1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.ConversationID == "" {
		t.Fatal("missing conversation ID")
	}

	// Chat on it.
	postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": created.ConversationID,
		"message":        "hi there",
	})

	// Metadata.
	var meta struct {
		Conversation map[string]any `json:"conversation"`
	}
	getJSON(t, ts.URL+"/conversations/"+created.ConversationID, &meta)
	if meta.Conversation["id"] != created.ConversationID {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Conversation["messageCount"] != float64(2) {
		t.Errorf("expected 2 messages, got %v", meta.Conversation["messageCount"])
	}

	// Transcript.
	var transcript struct {
		Messages []map[string]any `json:"messages"`
	}
	getJSON(t, ts.URL+"/conversations/"+created.ConversationID+"/messages", &transcript)
	if len(transcript.Messages) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(transcript.Messages))
	}
	if transcript.Messages[0]["role"] != "user" || transcript.Messages[1]["role"] != "assistant" {
		t.Errorf("unexpected transcript %+v", transcript.Messages)
	}

	// Delete.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/conversations/"+created.ConversationID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status %d", delResp.StatusCode)
	}
	if got := getJSON(t, ts.URL+"/conversations/"+created.ConversationID, nil); got.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", got.StatusCode)
	}
}

func TestConversationNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	if resp := getJSON(t, ts.URL+"/conversations/nope", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if resp := getJSON(t, ts.URL+"/conversations/nope/messages", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts, _ := newTestServer(t)

	var health map[string]any
	getJSON(t, ts.URL+"/health", &health)
	if health["status"] != "healthy" {
		t.Errorf("unexpected health %+v", health)
	}

	var version map[string]string
	getJSON(t, ts.URL+"/version", &version)
	if version["version"] == "" {
		t.Errorf("unexpected version %+v", version)
	}
}

func TestDebugAndRouterEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, textResponse("sure"))

	postJSON(t, ts.URL+"/chat", map[string]any{
		"conversationId": "c1",
		"message":        "hello there",
	})

	var debug struct {
		Conversations []map[string]any `json:"conversations"`
	}
	getJSON(t, ts.URL+"/debug/conversations", &debug)
	if len(debug.Conversations) != 1 {
		t.Errorf("expected 1 conversation, got %d", len(debug.Conversations))
	}

	var stats router.Stats
	getJSON(t, ts.URL+"/router/stats", &stats)
	if stats.TotalRequests != 1 {
		t.Errorf("expected 1 routed request, got %d", stats.TotalRequests)
	}

	var audit struct {
		Decisions []router.Decision `json:"decisions"`
	}
	getJSON(t, ts.URL+"/router/audit", &audit)
	if len(audit.Decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(audit.Decisions))
	}

	var decision router.Decision
	if resp := getJSON(t, ts.URL+"/router/explain/"+audit.Decisions[0].RequestID, &decision); resp.StatusCode != http.StatusOK {
		t.Errorf("explain status %d", resp.StatusCode)
	}
	if decision.BehaviorSelected != router.BehaviorGeneral {
		t.Errorf("unexpected decision %+v", decision)
	}
}
