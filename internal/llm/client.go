package llm

import "context"

// Client is the interface every model provider must implement. Given a
// message history and an optional action catalog, the provider returns
// either a plain reply or one or more requested tool calls, carried on
// the response message.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
