// Package orchestrator coordinates a conversation turn end to end:
// route the message to a behavior, run the model/action loop, and hold
// drafted tickets at the approval gate until a human decides. Filing a
// ticket happens only here, on an explicit approve action — never as a
// side effect of a model reply.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fixie-ai/fixie-agent/internal/agent"
	"github.com/fixie-ai/fixie-agent/internal/llm"
	"github.com/fixie-ai/fixie-agent/internal/memory"
	"github.com/fixie-ai/fixie-agent/internal/router"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
	"github.com/fixie-ai/fixie-agent/internal/tools"
)

// TurnRequest is one client turn: either a chat message or an approval
// action resolving a pending draft.
type TurnRequest struct {
	ConversationID string
	Message        string
	Action         string           // "", ActionApproveTicket, or ActionDeclineTicket
	Draft          *ticketing.Draft // optional draft re-supplied with an approval
}

// TurnOutcome is what the client renders after a turn.
type TurnOutcome struct {
	ConversationID   string           `json:"conversation_id"`
	ReplyText        string           `json:"reply_text"`
	Behavior         string           `json:"behavior,omitempty"`
	AwaitingApproval bool             `json:"awaiting_approval"`
	Draft            *ticketing.Draft `json:"draft,omitempty"`
	TicketFiled      bool             `json:"ticket_filed"`
	TicketID         string           `json:"ticket_id,omitempty"`
}

// Orchestrator drives conversation turns.
type Orchestrator struct {
	logger   *slog.Logger
	store    memory.Store
	router   *router.Router
	runner   *agent.Runner
	registry *tools.Registry
}

// New creates an orchestrator.
func New(logger *slog.Logger, store memory.Store, rtr *router.Router, runner *agent.Runner, registry *tools.Registry) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:   logger.With("component", "orchestrator"),
		store:    store,
		router:   rtr,
		runner:   runner,
		registry: registry,
	}
}

// EnsureConversation returns the conversation, creating it if needed.
func (o *Orchestrator) EnsureConversation(id, userID, userEmail string) (*memory.Conversation, error) {
	conv, err := o.store.Get(id)
	if err == nil {
		return conv, nil
	}
	if err != memory.ErrNotFound {
		return nil, err
	}

	conv = &memory.Conversation{ID: id, UserID: userID, UserEmail: userEmail}
	if err := o.store.Create(conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	o.logger.Info("conversation created", "conversation", id, "user", userID)
	return o.store.Get(id)
}

// HandleTurn processes one turn. Approval actions are handled without
// touching the router or the model; everything else routes to a
// behavior and runs the loop. A failed turn leaves the stored
// transcript unchanged.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnOutcome, error) {
	conv, err := o.store.Get(req.ConversationID)
	if err != nil {
		return nil, err
	}

	ctx = tools.WithConversationID(ctx, conv.ID)

	o.logger.Debug("turn received",
		"conversation", conv.ID,
		"action", req.Action,
		"gate", gateStateOf(conv),
	)

	switch req.Action {
	case ActionApproveTicket:
		return o.handleApprove(ctx, conv, req.Draft)
	case ActionDeclineTicket:
		return o.handleDecline(conv)
	case "":
		return o.handleMessage(ctx, conv, req.Message)
	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
}

// handleApprove files the pending draft. A draft re-supplied with the
// action takes precedence over the stored one, so a client that edited
// the preview files what the user actually saw.
func (o *Orchestrator) handleApprove(ctx context.Context, conv *memory.Conversation, supplied *ticketing.Draft) (*TurnOutcome, error) {
	draft := supplied
	if draft == nil {
		draft = conv.Draft
	}
	if draft == nil {
		return &TurnOutcome{
			ConversationID: conv.ID,
			ReplyText:      noPendingTicketText,
		}, nil
	}

	o.logger.Info("ticket approved",
		"conversation", conv.ID,
		"subject", draft.Subject,
	)

	text, ticket := o.registry.FileTicket(ctx, *draft)

	if err := o.store.Append(conv.ID,
		newStoredMessage("user", "Approved ticket creation."),
		newStoredMessage("assistant", text),
	); err != nil {
		return nil, fmt.Errorf("record approval: %w", err)
	}
	if err := o.store.UpdateState(conv.ID, conv.ActiveBehavior, nil, false); err != nil {
		return nil, fmt.Errorf("clear approval state: %w", err)
	}

	outcome := &TurnOutcome{
		ConversationID: conv.ID,
		ReplyText:      text,
	}
	if ticket != nil {
		outcome.TicketFiled = true
		outcome.TicketID = ticket.ID
	}
	return outcome, nil
}

// handleDecline discards the pending draft with a fixed reply.
func (o *Orchestrator) handleDecline(conv *memory.Conversation) (*TurnOutcome, error) {
	o.logger.Info("ticket declined", "conversation", conv.ID)

	if err := o.store.Append(conv.ID,
		newStoredMessage("user", "Declined ticket creation."),
		newStoredMessage("assistant", declineReplyText),
	); err != nil {
		return nil, fmt.Errorf("record decline: %w", err)
	}
	if err := o.store.UpdateState(conv.ID, conv.ActiveBehavior, nil, false); err != nil {
		return nil, fmt.Errorf("clear approval state: %w", err)
	}

	return &TurnOutcome{
		ConversationID: conv.ID,
		ReplyText:      declineReplyText,
	}, nil
}

// handleMessage routes a chat message and runs the behavior loop.
func (o *Orchestrator) handleMessage(ctx context.Context, conv *memory.Conversation, message string) (*TurnOutcome, error) {
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	behavior, decision := o.router.Route(ctx, router.Request{
		ConversationID: conv.ID,
		Message:        message,
	})

	userMsg := llm.Message{Role: "user", Content: message}
	history := append(conv.ModelMessages(), userMsg)

	start := time.Now()
	result, err := o.runner.RunTurn(ctx, behavior, history)
	if err != nil {
		// Nothing was stored; the client can retry the same message.
		return nil, fmt.Errorf("turn failed: %w", err)
	}

	// result.Messages is [system] + history + the turn's new entries.
	newEntries := result.Messages[1+len(history):]
	stored := make([]memory.Message, 0, len(newEntries)+1)
	stored = append(stored, newStoredMessage("user", message))
	for _, m := range newEntries {
		sm := newStoredMessage(m.Role, m.Content)
		sm.ToolCalls = m.ToolCalls
		sm.ToolCallID = m.ToolCallID
		stored = append(stored, sm)
	}
	if err := o.store.Append(conv.ID, stored...); err != nil {
		return nil, fmt.Errorf("record turn: %w", err)
	}

	// A drafted ticket moves the gate to awaiting approval. Otherwise a
	// pending draft stays pending: only approve, decline, or a fresh
	// draft resolves it.
	draft := conv.Draft
	awaiting := conv.AwaitingApproval
	if result.Draft != nil {
		draft = result.Draft
		awaiting = true
	}
	if err := o.store.UpdateState(conv.ID, result.Behavior, draft, awaiting); err != nil {
		return nil, fmt.Errorf("record state: %w", err)
	}

	o.logger.Info("turn handled",
		"conversation", conv.ID,
		"request_id", decision.RequestID,
		"behavior", result.Behavior,
		"rounds", result.Rounds,
		"awaiting_approval", awaiting,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &TurnOutcome{
		ConversationID:   conv.ID,
		ReplyText:        result.Content,
		Behavior:         result.Behavior,
		AwaitingApproval: awaiting,
		Draft:            draft,
	}, nil
}

// Conversation exposes stored conversation state for the API layer.
func (o *Orchestrator) Conversation(id string) (*memory.Conversation, error) {
	return o.store.Get(id)
}

// Conversations lists all stored conversations, newest first.
func (o *Orchestrator) Conversations() ([]*memory.Conversation, error) {
	return o.store.List()
}

// DeleteConversation removes a conversation and its transcript.
func (o *Orchestrator) DeleteConversation(id string) error {
	return o.store.Delete(id)
}

// Stats reports orchestrator-level counters for the debug endpoint.
func (o *Orchestrator) Stats() map[string]any {
	return map[string]any{
		"store":  o.store.Stats(),
		"router": o.router.GetStats(),
	}
}

func newStoredMessage(role, content string) memory.Message {
	id, _ := uuid.NewV7()
	return memory.Message{
		ID:        id.String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}
