// Package api implements the HTTP API the chat frontend talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fixie-ai/fixie-agent/internal/buildinfo"
	"github.com/fixie-ai/fixie-agent/internal/memory"
	"github.com/fixie-ai/fixie-agent/internal/orchestrator"
	"github.com/fixie-ai/fixie-agent/internal/router"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg}, logger)
}

// Server is the HTTP API server.
type Server struct {
	listen string
	orch   *orchestrator.Orchestrator
	router *router.Router
	logger *slog.Logger
	server *http.Server
}

// NewServer creates the API server.
func NewServer(listen string, orch *orchestrator.Orchestrator, rtr *router.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen: listen,
		orch:   orch,
		router: rtr,
		logger: logger.With("component", "api"),
	}
}

// chatRequest is one frontend turn: a message, or an approval action
// with the draft the user saw.
type chatRequest struct {
	ConversationID string           `json:"conversationId"`
	Message        string           `json:"message"`
	UserID         string           `json:"userId"`
	UserEmail      string           `json:"userEmail"`
	Action         string           `json:"action,omitempty"`
	TicketData     *ticketing.Draft `json:"ticketData,omitempty"`
}

// chatResponse is what the frontend renders after a turn.
type chatResponse struct {
	Success            bool            `json:"success"`
	MessageID          string          `json:"messageId"`
	Content            string          `json:"content"`
	ConversationID     string          `json:"conversationId"`
	NeedsApproval      bool            `json:"needsApproval,omitempty"`
	TicketSummary      string          `json:"ticketSummary,omitempty"`
	InteractiveButtons *approvalPrompt `json:"interactiveButtons,omitempty"`
	TicketCreated      bool            `json:"ticketCreated,omitempty"`
	TicketID           string          `json:"ticketId,omitempty"`

	// TicketNumber mirrors TicketID. Older frontend builds read this
	// field, so both names are served.
	TicketNumber string `json:"ticketNumber,omitempty"`
}

// approvalPrompt tells the frontend to render approve/decline buttons
// carrying the draft back on approval.
type approvalPrompt struct {
	Type    string           `json:"type"`
	Buttons []approvalButton `json:"buttons"`
}

type approvalButton struct {
	ID     string           `json:"id"`
	Label  string           `json:"label"`
	Action string           `json:"action"`
	Data   *ticketing.Draft `json:"data,omitempty"`
}

func newApprovalPrompt(draft *ticketing.Draft) *approvalPrompt {
	return &approvalPrompt{
		Type: "ticket_approval",
		Buttons: []approvalButton{
			{ID: orchestrator.ActionApproveTicket, Label: "Create Ticket", Action: orchestrator.ActionApproveTicket, Data: draft},
			{ID: orchestrator.ActionDeclineTicket, Label: "No Thanks", Action: orchestrator.ActionDeclineTicket},
		},
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("POST /chat", s.handleChat)

	mux.HandleFunc("POST /conversations", s.handleConversationCreate)
	mux.HandleFunc("GET /conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleConversationMessages)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleConversationDelete)

	mux.HandleFunc("GET /debug/conversations", s.handleDebugConversations)
	mux.HandleFunc("GET /router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /router/explain/{requestId}", s.handleRouterExplain)

	return mux
}

// Start runs the server until ListenAndServe returns.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server listening", "addr", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Fixie IT Support Backend",
		"status":  "running",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    buildinfo.Uptime().Round(time.Second).String(),
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required", s.logger)
		return
	}
	if req.Message == "" && !orchestrator.IsApprovalAction(req.Action) {
		writeError(w, http.StatusBadRequest, "message is required", s.logger)
		return
	}

	if _, err := s.orch.EnsureConversation(req.ConversationID, req.UserID, req.UserEmail); err != nil {
		s.logger.Error("ensure conversation failed", "conversation", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load conversation", s.logger)
		return
	}

	outcome, err := s.orch.HandleTurn(r.Context(), orchestrator.TurnRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Action:         req.Action,
		Draft:          req.TicketData,
	})
	if err != nil {
		s.logger.Error("turn failed", "conversation", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Sorry, I encountered an error: %v", err), s.logger)
		return
	}

	messageID, _ := uuid.NewV7()
	resp := chatResponse{
		Success:        true,
		MessageID:      messageID.String(),
		Content:        outcome.ReplyText,
		ConversationID: outcome.ConversationID,
		TicketCreated:  outcome.TicketFiled,
		TicketID:       outcome.TicketID,
		TicketNumber:   outcome.TicketID,
	}
	if outcome.AwaitingApproval && outcome.Draft != nil {
		resp.NeedsApproval = true
		resp.TicketSummary = outcome.Draft.Subject
		resp.InteractiveButtons = newApprovalPrompt(outcome.Draft)
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"userId"`
		UserEmail string `json:"userEmail"`
	}
	// Body is optional.
	_ = json.NewDecoder(r.Body).Decode(&req)

	id, _ := uuid.NewV7()
	if _, err := s.orch.EnsureConversation(id.String(), req.UserID, req.UserEmail); err != nil {
		s.logger.Error("create conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create conversation", s.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversationId": id.String()}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.orch.Conversation(r.PathValue("id"))
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load conversation", s.logger)
		return
	}
	// Metadata only; the transcript has its own endpoint.
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": map[string]any{
			"id":               conv.ID,
			"userId":           conv.UserID,
			"userEmail":        conv.UserEmail,
			"activeBehavior":   conv.ActiveBehavior,
			"awaitingApproval": conv.AwaitingApproval,
			"messageCount":     len(conv.Messages),
			"createdAt":        conv.CreatedAt,
			"updatedAt":        conv.UpdatedAt,
		},
	}, s.logger)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := s.orch.Conversation(r.PathValue("id"))
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found", s.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load conversation", s.logger)
		return
	}

	// Action plumbing stays internal; the frontend renders user and
	// assistant text only.
	type wireMessage struct {
		ID        string    `json:"id"`
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
	}
	messages := make([]wireMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if m.Content == "" {
			continue
		}
		messages = append(messages, wireMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteConversation(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, "could not delete conversation", s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDebugConversations(w http.ResponseWriter, _ *http.Request) {
	convs, err := s.orch.Conversations()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list conversations", s.logger)
		return
	}

	summaries := make([]map[string]any, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, map[string]any{
			"id":               conv.ID,
			"messageCount":     len(conv.Messages),
			"awaitingApproval": conv.AwaitingApproval,
			"updatedAt":        conv.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": summaries,
		"stats":         s.orch.Stats(),
	}, s.logger)
}

func (s *Server) handleRouterStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.router.GetStats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": s.router.GetAuditLog(limit),
	}, s.logger)
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	decision := s.router.Explain(r.PathValue("requestId"))
	if decision == nil {
		writeError(w, http.StatusNotFound, "decision not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, decision, s.logger)
}
