package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fixie-ai/fixie-agent/internal/ticketing"
)

// Fixed user-facing texts for gateway failures. Raw transport errors
// never reach the user.
const (
	authFailureText      = "Authentication failed with the ticketing system. Please check API credentials."
	emailFailureText     = "Email validation failed. Please provide a valid email address."
	transientFailureText = "The ticketing system did not respond. Please try again in a moment, or contact support directly."
	genericFailureText   = "Unexpected error while creating the ticket. Please contact support directly."
)

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name: DraftTicketAction,
		Description: "Generate ticket details for user approval. This does not create the ticket yet. " +
			"Use it to propose a subject, description, priority, and email based on the conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject": map[string]any{
					"type":        "string",
					"description": "Clear, concise subject line describing the issue",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Detailed description of the problem including what was tried",
				},
				"priority": map[string]any{
					"type":        "string",
					"description": "Priority level (1=Low, 2=Medium, 3=High, 4=Urgent)",
				},
				"email": map[string]any{
					"type":        "string",
					"description": "User's email address for the ticket",
				},
			},
			"required": []string{"subject", "description", "priority", "email"},
		},
		Handler: r.handleDraftTicket,
	})

	r.Register(&Tool{
		Name: FileTicketAction,
		Description: "Create a support ticket in the ticketing system. Only reachable through " +
			"the human approval path, never offered to the model.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject":     map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"priority":    map[string]any{"type": "string"},
				"email":       map[string]any{"type": "string"},
			},
			"required": []string{"subject", "description", "priority", "email"},
		},
		Handler: r.handleFileTicket,
	})
}

// handleDraftTicket renders the approval preview. No external call is
// made; the loop captures the arguments verbatim as the draft.
func (r *Registry) handleDraftTicket(_ context.Context, args map[string]any) (string, error) {
	draft := DraftFromArgs(args)
	return RenderDraftPreview(draft), nil
}

// handleFileTicket is the tool-shaped wrapper around FileTicket. All
// failures come back as observation text for the model.
func (r *Registry) handleFileTicket(ctx context.Context, args map[string]any) (string, error) {
	draft := DraftFromArgs(args)
	text, _ := r.FileTicket(ctx, draft)
	return text, nil
}

// FileTicket validates the draft and files it at the ticketing gateway
// with a bounded timeout. It returns the user-facing text and, on
// success, the filed ticket. It never returns an error value: every
// failure mode has a fixed text, and validation problems are explained
// so the model or user can correct them. There is no automatic retry.
func (r *Registry) FileTicket(ctx context.Context, draft ticketing.Draft) (string, *ticketing.Ticket) {
	if err := draft.Validate(); err != nil {
		r.logger.Debug("ticket draft rejected", "error", err)
		return fmt.Sprintf("Cannot create the ticket: %s.", err), nil
	}

	if r.ticketing == nil {
		r.logger.Warn("ticketing gateway not configured")
		return genericFailureText, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	ticket, err := r.ticketing.CreateTicket(callCtx, draft)
	if err != nil {
		r.logger.Warn("ticket filing failed",
			"conversation", ConversationIDFromContext(ctx),
			"error", err,
		)
		switch {
		case errors.Is(err, ticketing.ErrInvalidCredentials):
			return authFailureText, nil
		case errors.Is(err, ticketing.ErrInvalidEmail):
			return emailFailureText, nil
		case errors.Is(err, ticketing.ErrTimeout), errors.Is(err, ticketing.ErrConnection):
			return transientFailureText, nil
		default:
			var apiErr *ticketing.APIError
			if errors.As(err, &apiErr) && apiErr.Message != "" {
				return fmt.Sprintf("The ticketing system rejected the request: %s.", apiErr.Message), nil
			}
			return genericFailureText, nil
		}
	}

	r.logger.Info("ticket filed",
		"conversation", ConversationIDFromContext(ctx),
		"ticket_id", ticket.ID,
	)

	return RenderTicketConfirmation(draft, ticket), ticket
}

// DraftFromArgs captures action arguments verbatim as a ticket draft.
// Priority arrives as a string or number depending on the model; an
// unparsable value falls back to Medium so the preview still renders —
// filing re-validates the final draft regardless.
func DraftFromArgs(args map[string]any) ticketing.Draft {
	str := func(key string) string {
		s, _ := args[key].(string)
		return s
	}
	return ticketing.Draft{
		Subject:     str("subject"),
		Description: str("description"),
		Priority:    priorityFromArg(args["priority"]),
		Email:       str("email"),
	}
}

func priorityFromArg(v any) ticketing.Priority {
	switch p := v.(type) {
	case float64:
		return ticketing.Priority(int(p))
	case int:
		return ticketing.Priority(p)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			return ticketing.Priority(n)
		}
	}
	return ticketing.PriorityMedium
}

// RenderDraftPreview formats the draft the way it is presented for
// approval.
func RenderDraftPreview(d ticketing.Draft) string {
	priorityName := d.Priority.String()
	if !d.Priority.Valid() {
		priorityName = ticketing.PriorityMedium.String()
	}
	return fmt.Sprintf(`I can help you create a support ticket for this issue. Here's what I'll include:

Subject: %s
Description: %s
Priority: %s
Email: %s

Would you like me to proceed with creating this ticket?`,
		d.Subject, d.Description, priorityName, d.Email)
}

// RenderTicketConfirmation formats the post-filing confirmation shown
// to the user.
func RenderTicketConfirmation(d ticketing.Draft, t *ticketing.Ticket) string {
	return fmt.Sprintf(`Support ticket created successfully!

Ticket ID: #%s
Subject: %s
Priority: %s

View your ticket: %s

Our IT support team will review your request and respond within 24 hours. You'll receive email updates as we work on your issue.`,
		t.ID, d.Subject, t.Priority.String(), t.URL)
}
