// Package memory provides conversation state storage. Every turn's
// transcript, the active behavior, and any ticket draft pending
// approval live here. Two backends exist: an in-memory store and a
// SQLite store for persistence across restarts.
package memory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/llm"
	"github.com/fixie-ai/fixie-agent/internal/ticketing"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("memory: conversation not found")

// Message is one transcript entry. Action requests and observations
// are kept alongside plain text so the model sees the full exchange on
// later turns.
type Message struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"` // system, user, assistant, tool
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Conversation holds the full state of a single conversation.
type Conversation struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id,omitempty"`
	UserEmail        string           `json:"user_email,omitempty"`
	Messages         []Message        `json:"messages"`
	ActiveBehavior   string           `json:"active_behavior,omitempty"`
	Draft            *ticketing.Draft `json:"draft,omitempty"`
	AwaitingApproval bool             `json:"awaiting_approval"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ModelMessages converts the transcript to the model wire shape,
// dropping storage-only fields.
func (c *Conversation) ModelMessages() []llm.Message {
	out := make([]llm.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

// Store is the conversation state backend. A turn that fails must not
// change stored state, so callers append the whole turn at once.
type Store interface {
	// Create adds a new conversation. The caller sets the ID.
	Create(conv *Conversation) error

	// Get returns a copy of the conversation, or ErrNotFound.
	Get(id string) (*Conversation, error)

	// Append atomically adds messages to the transcript, trimming the
	// oldest entries past the store's message cap.
	Append(id string, msgs ...Message) error

	// UpdateState records the routing and approval outcome of a turn.
	UpdateState(id, behavior string, draft *ticketing.Draft, awaiting bool) error

	// List returns copies of all conversations, newest first.
	List() ([]*Conversation, error)

	// Delete removes a conversation. Deleting a missing ID is not an error.
	Delete(id string) error

	// Stats reports backend counters for the debug endpoint.
	Stats() map[string]any

	// Close releases backend resources.
	Close() error
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	maxMessages   int // per conversation
}

// NewMemoryStore creates an in-memory store. maxMessages caps the
// transcript per conversation; zero means 100.
func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		maxMessages:   maxMessages,
	}
}

func (s *MemoryStore) Create(conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c := copyConversation(conv)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.conversations[c.ID] = c
	return nil
}

func (s *MemoryStore) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) Append(id string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}

	conv.Messages = append(conv.Messages, msgs...)
	if over := len(conv.Messages) - s.maxMessages; over > 0 {
		conv.Messages = conv.Messages[over:]
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) UpdateState(id, behavior string, draft *ticketing.Draft, awaiting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}

	conv.ActiveBehavior = behavior
	conv.AwaitingApproval = awaiting
	if draft != nil {
		d := *draft
		conv.Draft = &d
	} else {
		conv.Draft = nil
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) List() ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, copyConversation(conv))
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalMessages := 0
	awaiting := 0
	for _, conv := range s.conversations {
		totalMessages += len(conv.Messages)
		if conv.AwaitingApproval {
			awaiting++
		}
	}
	return map[string]any{
		"backend":           "memory",
		"conversations":     len(s.conversations),
		"total_messages":    totalMessages,
		"awaiting_approval": awaiting,
		"max_messages":      s.maxMessages,
	}
}

func (s *MemoryStore) Close() error { return nil }

func copyConversation(conv *Conversation) *Conversation {
	c := *conv
	c.Messages = make([]Message, len(conv.Messages))
	copy(c.Messages, conv.Messages)
	if conv.Draft != nil {
		d := *conv.Draft
		c.Draft = &d
	}
	return &c
}

func sortByUpdatedDesc(convs []*Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
