package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fixie-ai/fixie-agent/internal/llm"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
	"github.com/fixie-ai/fixie-agent/internal/tools"
)

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Content      string           `json:"content"`
	Behavior     string           `json:"behavior"`
	Rounds       int              `json:"rounds"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	Exhausted    bool             `json:"exhausted"`
	Draft        *ticketing.Draft `json:"draft,omitempty"`
	Messages     []llm.Message    `json:"-"`
}

// Runner executes conversation turns against the model with a bounded
// action loop.
type Runner struct {
	logger    *slog.Logger
	llm       llm.Client
	registry  *tools.Registry
	behaviors map[string]*Behavior
	model     string
	maxRounds int
}

// NewRunner creates a turn runner. maxRounds overrides every behavior's
// round cap when positive.
func NewRunner(logger *slog.Logger, llmClient llm.Client, registry *tools.Registry, model string, maxRounds int) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger:    logger.With("component", "agent"),
		llm:       llmClient,
		registry:  registry,
		behaviors: builtinBehaviors(),
		model:     model,
		maxRounds: maxRounds,
	}
}

// BehaviorNames returns the names of all registered behaviors.
func (r *Runner) BehaviorNames() []string {
	names := make([]string, 0, len(r.behaviors))
	for name := range r.behaviors {
		names = append(names, name)
	}
	return names
}

// Behavior returns the named behavior, or nil.
func (r *Runner) Behavior(name string) *Behavior {
	return r.behaviors[name]
}

// RunTurn executes one turn under the named behavior. history is the
// conversation so far, ending with the user's newest message; the
// behavior's system prompt is prepended here and never stored.
//
// The loop alternates model calls and action execution until the model
// answers in plain text, a drafting action fires, or the round cap is
// hit. Action failures become text observations for the model; only
// model-call failures return an error, with no partial state.
func (r *Runner) RunTurn(ctx context.Context, behaviorName string, history []llm.Message) (*TurnResult, error) {
	behavior := r.behaviors[behaviorName]
	if behavior == nil {
		behavior = r.behaviors["general"]
	}

	turnID, _ := uuid.NewV7()
	tid := turnID.String()

	reg := r.registry.FilteredCopy(behavior.AllowedTools)
	toolDefs := reg.List()

	maxRounds := r.maxRounds
	if maxRounds <= 0 {
		maxRounds = behavior.MaxRounds
	}
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	ctx, cancel := context.WithTimeout(ctx, turnDeadline)
	defer cancel()

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: behavior.SystemPrompt})
	messages = append(messages, history...)

	r.logger.Info("turn started",
		"turn_id", tid,
		"behavior", behavior.Name,
		"actions_available", len(toolDefs),
		"history", len(history),
	)

	startTime := time.Now()
	var totalInput, totalOutput int

	for round := range maxRounds {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		roundStart := time.Now()

		resp, err := r.llm.Chat(ctx, r.model, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("model call failed (round %d): %w", round, err)
		}

		totalInput += resp.InputTokens
		totalOutput += resp.OutputTokens

		r.logger.Debug("model response",
			"turn_id", tid,
			"behavior", behavior.Name,
			"round", round,
			"action_calls", len(resp.Message.ToolCalls),
			"elapsed", time.Since(roundStart).Round(time.Millisecond),
		)

		// Plain text answer ends the turn.
		if len(resp.Message.ToolCalls) == 0 {
			messages = append(messages, resp.Message)
			r.logger.Info("turn completed",
				"turn_id", tid,
				"behavior", behavior.Name,
				"rounds", round+1,
				"input_tokens", totalInput,
				"output_tokens", totalOutput,
				"elapsed", time.Since(startTime).Round(time.Millisecond),
			)
			return &TurnResult{
				Content:      resp.Message.Content,
				Behavior:     behavior.Name,
				Rounds:       round + 1,
				InputTokens:  totalInput,
				OutputTokens: totalOutput,
				Messages:     messages,
			}, nil
		}

		messages = append(messages, resp.Message)

		var draft *ticketing.Draft
		for _, tc := range resp.Message.ToolCalls {
			argsJSON := ""
			if tc.Function.Arguments != nil {
				argsBytes, _ := json.Marshal(tc.Function.Arguments)
				argsJSON = string(argsBytes)
			}

			r.logger.Info("action exec",
				"turn_id", tid,
				"behavior", behavior.Name,
				"round", round,
				"action", tc.Function.Name,
			)

			result, err := reg.Execute(ctx, tc.Function.Name, argsJSON)
			if err != nil {
				result = "Error: " + err.Error()
				r.logger.Warn("action exec failed",
					"turn_id", tid,
					"action", tc.Function.Name,
					"error", err,
				)
			}

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})

			// The drafting action carries the proposed ticket in its
			// arguments verbatim; nothing is parsed back out of text.
			if tc.Function.Name == tools.DraftTicketAction {
				d := tools.DraftFromArgs(tc.Function.Arguments)
				draft = &d
			}
		}

		// A drafted ticket ends the turn: the preview goes to the user
		// for approval, not back to the model.
		if draft != nil {
			r.logger.Info("turn drafted ticket",
				"turn_id", tid,
				"behavior", behavior.Name,
				"rounds", round+1,
				"subject", draft.Subject,
			)
			return &TurnResult{
				Content:      tools.RenderDraftPreview(*draft),
				Behavior:     behavior.Name,
				Rounds:       round + 1,
				InputTokens:  totalInput,
				OutputTokens: totalOutput,
				Draft:        draft,
				Messages:     messages,
			}, nil
		}
	}

	// Round cap hit: force a final text answer with no actions offered.
	r.logger.Warn("turn round cap reached",
		"turn_id", tid,
		"behavior", behavior.Name,
		"max_rounds", maxRounds,
	)
	return r.forceTextResponse(ctx, behavior, messages, maxRounds, totalInput, totalOutput)
}

// forceTextResponse makes a final model call with no actions so the
// turn always ends in text for the user.
func (r *Runner) forceTextResponse(ctx context.Context, behavior *Behavior, messages []llm.Message, rounds, totalInput, totalOutput int) (*TurnResult, error) {
	resp, err := r.llm.Chat(ctx, r.model, messages, nil)
	if err != nil {
		const fallback = "I wasn't able to finish working on that automatically. Could you rephrase the request, or ask me to create a support ticket so a human can take over?"
		messages = append(messages, llm.Message{Role: "assistant", Content: fallback})
		return &TurnResult{
			Content:      fallback,
			Behavior:     behavior.Name,
			Rounds:       rounds,
			InputTokens:  totalInput,
			OutputTokens: totalOutput,
			Exhausted:    true,
			Messages:     messages,
		}, nil
	}

	messages = append(messages, resp.Message)
	return &TurnResult{
		Content:      resp.Message.Content,
		Behavior:     behavior.Name,
		Rounds:       rounds,
		InputTokens:  totalInput + resp.InputTokens,
		OutputTokens: totalOutput + resp.OutputTokens,
		Exhausted:    true,
		Messages:     messages,
	}, nil
}
