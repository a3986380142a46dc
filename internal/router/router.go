// Package router classifies each user turn into the behavior that
// should handle it. Routing is deterministic keyword matching, not a
// model call: the same message always routes the same way, and every
// decision is recorded for inspection.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Behavior names the router can select.
const (
	BehaviorGeneral        = "general"
	BehaviorTicketAnalysis = "ticket_analysis"
)

// escalationKeywords trigger the ticket-analysis behavior. Matching is
// case-insensitive substring search over the raw message.
var escalationKeywords = []string{
	"create ticket",
	"create a ticket",
	"open ticket",
	"submit ticket",
	"escalate",
	"human help",
	"support team",
	"manager",
}

// Request contains the information needed for a routing decision.
type Request struct {
	ConversationID string // Conversation the message belongs to
	Message        string // The user's input, unmodified
}

// Decision records why a behavior was selected.
type Decision struct {
	RequestID      string    `json:"request_id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`

	// Input analysis
	MessageLength   int      `json:"message_length"`
	KeywordsMatched []string `json:"keywords_matched,omitempty"`

	// Outcome
	BehaviorSelected string `json:"behavior_selected"`
	Reasoning        string `json:"reasoning"`
}

// Router selects behaviors based on message content.
type Router struct {
	logger *slog.Logger

	mu          sync.RWMutex
	auditLog    []Decision
	maxAuditLog int
	stats       Stats
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests  int64            `json:"total_requests"`
	BehaviorCounts map[string]int64 `json:"behavior_counts"`
	KeywordCounts  map[string]int64 `json:"keyword_counts"`
}

// NewRouter creates a router. maxAuditLog bounds the in-memory decision
// history; zero means 1000.
func NewRouter(logger *slog.Logger, maxAuditLog int) *Router {
	if maxAuditLog <= 0 {
		maxAuditLog = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:      logger.With("component", "router"),
		auditLog:    make([]Decision, 0, maxAuditLog),
		maxAuditLog: maxAuditLog,
		stats: Stats{
			BehaviorCounts: make(map[string]int64),
			KeywordCounts:  make(map[string]int64),
		},
	}
}

// Route selects a behavior for the given request. The decision is a
// hint only: an action taken during the turn can still supersede it.
func (r *Router) Route(_ context.Context, req Request) (string, *Decision) {
	decision := &Decision{
		RequestID:      generateRequestID(),
		ConversationID: req.ConversationID,
		Timestamp:      time.Now(),
		MessageLength:  len(req.Message),
	}

	decision.KeywordsMatched = matchKeywords(req.Message)

	if len(decision.KeywordsMatched) > 0 {
		decision.BehaviorSelected = BehaviorTicketAnalysis
		decision.Reasoning = "Escalation keyword matched: " + strings.Join(decision.KeywordsMatched, ", ")
	} else {
		decision.BehaviorSelected = BehaviorGeneral
		decision.Reasoning = "No escalation keywords, handling as general support."
	}

	r.recordDecision(*decision)

	r.logger.Info("turn routed",
		"request_id", decision.RequestID,
		"conversation", req.ConversationID,
		"behavior", decision.BehaviorSelected,
		"keywords", decision.KeywordsMatched,
	)

	return decision.BehaviorSelected, decision
}

// matchKeywords returns every escalation keyword present in the message.
func matchKeywords(message string) []string {
	m := strings.ToLower(message)
	var matched []string
	for _, kw := range escalationKeywords {
		if strings.Contains(m, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.maxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.BehaviorCounts[d.BehaviorSelected]++
	for _, kw := range d.KeywordsMatched {
		r.stats.KeywordCounts[kw]++
	}
}

// GetAuditLog returns the most recent routing decisions.
func (r *Router) GetAuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}
	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns a snapshot of routing statistics. The count maps are
// copied so callers can read them while Route keeps recording.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Stats{
		TotalRequests:  r.stats.TotalRequests,
		BehaviorCounts: make(map[string]int64, len(r.stats.BehaviorCounts)),
		KeywordCounts:  make(map[string]int64, len(r.stats.KeywordCounts)),
	}
	for k, v := range r.stats.BehaviorCounts {
		snap.BehaviorCounts[k] = v
	}
	for k, v := range r.stats.KeywordCounts {
		snap.KeywordCounts[k] = v
	}
	return snap
}

// Explain returns the recorded decision for a request ID, or nil.
func (r *Router) Explain(requestID string) *Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			d := r.auditLog[i]
			return &d
		}
	}
	return nil
}

func generateRequestID() string {
	return time.Now().Format("20060102-150405.000000")
}
