package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/httpkit"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient is a client for the OpenAI chat completions API (and
// compatible servers).
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewOpenAIClient creates a new OpenAI client. Model responses with long
// prompts can take a while before headers arrive, so the transport gets a
// generous response header timeout; the overall deadline comes from ctx.
func NewOpenAIClient(baseURL, apiKey string, temperature float64, maxTokens int, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger.With("provider", "openai"),
		httpClient:  httpkit.NewGatewayClient(2*time.Minute, 120*time.Second),
	}
}

// OpenAI request/response wire types. Tool call arguments are a JSON
// string on the wire; conversion to map[string]any happens here so the
// rest of the system only sees proper Go types.

type openaiRequest struct {
	Model       string           `json:"model"`
	Messages    []openaiMessage  `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := openaiRequest{
		Model:       model,
		Messages:    convertToOpenAI(messages),
		Tools:       tools,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	var apiResp openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg, err := convertFromOpenAI(apiResp.Choices[0].Message)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("chat completed",
		"model", apiResp.Model,
		"tool_calls", len(msg.ToolCalls),
		"input_tokens", apiResp.Usage.PromptTokens,
		"output_tokens", apiResp.Usage.CompletionTokens,
	)

	return &ChatResponse{
		Model:        apiResp.Model,
		CreatedAt:    time.Unix(apiResp.Created, 0),
		Message:      msg,
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
	}, nil
}

// Ping checks that the API is reachable and the key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping returned status %d", resp.StatusCode)
	}
	return nil
}

// convertToOpenAI maps unified messages to the wire format. Tool call
// arguments are re-encoded as JSON strings.
func convertToOpenAI(messages []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		om := openaiMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var otc openaiToolCall
			otc.ID = tc.ID
			otc.Type = "function"
			otc.Function.Name = tc.Function.Name
			if tc.Function.Arguments != nil {
				argsBytes, _ := json.Marshal(tc.Function.Arguments)
				otc.Function.Arguments = string(argsBytes)
			} else {
				otc.Function.Arguments = "{}"
			}
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

// convertFromOpenAI maps a wire message to the unified format, parsing
// tool call argument strings into maps.
func convertFromOpenAI(om openaiMessage) (Message, error) {
	msg := Message{
		Role:    om.Role,
		Content: om.Content,
	}
	for _, otc := range om.ToolCalls {
		var args map[string]any
		if otc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(otc.Function.Arguments), &args); err != nil {
				return Message{}, fmt.Errorf("parse tool call arguments for %s: %w", otc.Function.Name, err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, NewToolCall(otc.ID, otc.Function.Name, args))
	}
	return msg, nil
}
