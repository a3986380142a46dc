// Package ticketing provides the support ticket gateway used for
// escalations. The Freshdesk client is the only implementation; the
// Client interface exists so the orchestration core can be exercised
// against fakes.
package ticketing

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Priority is the ticket priority, 1..4 on the wire.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityUrgent:
		return "Urgent"
	default:
		return "Unknown"
	}
}

// Valid reports whether p is within the 1..4 range the gateway accepts.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// Draft is a proposed but unfiled ticket, held pending human approval.
// A draft is immutable after extraction; a fresh drafting pass replaces
// it wholesale.
type Draft struct {
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Email       string   `json:"email"`
}

// Validate checks the draft fields the gateway would reject.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Subject) == "" {
		return fmt.Errorf("subject must not be empty")
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("description must not be empty")
	}
	if !d.Priority.Valid() {
		return fmt.Errorf("priority must be between 1 (Low) and 4 (Urgent), got %d", d.Priority)
	}
	if strings.TrimSpace(d.Email) == "" {
		return fmt.Errorf("email must not be empty")
	}
	if _, err := mail.ParseAddress(d.Email); err != nil {
		return fmt.Errorf("email %q does not look like an email address", d.Email)
	}
	return nil
}

// Ticket is the record of a successfully filed ticket.
type Ticket struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	Priority Priority `json:"priority"`
}

// Client files tickets at the support backend.
type Client interface {
	// CreateTicket files the draft and returns the resulting ticket.
	// Failures are classified via the sentinel errors in this package.
	CreateTicket(ctx context.Context, draft Draft) (*Ticket, error)
}

// Classified gateway failures. Callers branch on these to pick the
// user-facing message; raw transport detail stays wrapped underneath.
var (
	// ErrInvalidCredentials means the backend rejected the API key.
	ErrInvalidCredentials = errors.New("ticketing: invalid credentials")

	// ErrInvalidEmail means the backend rejected the requester email.
	ErrInvalidEmail = errors.New("ticketing: invalid email")

	// ErrTimeout means the request deadline elapsed.
	ErrTimeout = errors.New("ticketing: request timed out")

	// ErrConnection means the backend was unreachable.
	ErrConnection = errors.New("ticketing: connection failed")
)

// APIError is any other backend rejection, carrying the status code and
// whatever message the backend returned.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticketing: API error %d: %s", e.StatusCode, e.Message)
}
