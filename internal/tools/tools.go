// Package tools defines the actions available to the assistant and
// executes them. Exactly two actions exist: drafting ticket details for
// human approval, and filing a ticket at the ticketing gateway. Every
// execution failure is converted into a human-readable observation —
// the model only understands text.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/ticketing"
)

// Action names. FileTicketAction must never appear in a behavior's
// catalog; it is reachable only through the approval path.
const (
	FileTicketAction  = "file_ticket"
	DraftTicketAction = "draft_ticket_details"
)

// Tool represents a callable action.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds the available actions and the collaborators they need.
type Registry struct {
	tools       map[string]*Tool
	ticketing   ticketing.Client
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewRegistry creates an action registry wired to the ticketing gateway.
// callTimeout bounds a single external call; zero means 30 seconds.
func NewRegistry(tc ticketing.Client, callTimeout time.Duration, logger *slog.Logger) *Registry {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:       make(map[string]*Tool),
		ticketing:   tc,
		callTimeout: callTimeout,
		logger:      logger.With("component", "tools"),
	}
	r.registerBuiltins()
	return r
}

// NewEmptyRegistry creates a registry with no actions, for tests.
func NewEmptyRegistry() *Registry {
	return &Registry{
		tools:       make(map[string]*Tool),
		callTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// List returns the action catalog in the wire format the model expects.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs an action by name with the given arguments. An unknown
// name returns ErrToolUnavailable; handler failures come back as text
// observations, not errors.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	r.logger.Debug("executing action",
		"action", name,
		"conversation", ConversationIDFromContext(ctx),
	)

	return tool.Handler(ctx, args)
}
