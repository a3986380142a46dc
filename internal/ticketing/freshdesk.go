package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/httpkit"
)

// freshdeskStatusOpen is the "Open" ticket status on the Freshdesk API.
const freshdeskStatusOpen = 2

// FreshdeskClient files tickets via the Freshdesk v2 REST API.
type FreshdeskClient struct {
	domain     string // e.g. yourcompany.freshdesk.com
	apiKey     string
	baseURL    string // derived from domain; overridable in tests
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFreshdeskClient creates a Freshdesk client. timeout bounds a single
// ticket creation call; zero means 30 seconds.
func NewFreshdeskClient(domain, apiKey string, timeout time.Duration, logger *slog.Logger) *FreshdeskClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FreshdeskClient{
		domain:     domain,
		apiKey:     apiKey,
		baseURL:    "https://" + domain,
		logger:     logger.With("provider", "freshdesk"),
		httpClient: httpkit.NewGatewayClient(timeout, 0),
	}
}

type freshdeskTicketRequest struct {
	Description string `json:"description"`
	Subject     string `json:"subject"`
	Email       string `json:"email"`
	Priority    int    `json:"priority"`
	Status      int    `json:"status"`
}

type freshdeskTicketResponse struct {
	ID int64 `json:"id"`
}

type freshdeskErrorResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Errors      []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"errors"`
}

// CreateTicket files the draft as an open ticket and returns the record,
// including the human-viewable URL.
func (c *FreshdeskClient) CreateTicket(ctx context.Context, draft Draft) (*Ticket, error) {
	if c.domain == "" || c.apiKey == "" {
		return nil, ErrInvalidCredentials
	}

	body := freshdeskTicketRequest{
		Description: draft.Description,
		Subject:     draft.Subject,
		Email:       draft.Email,
		Priority:    int(draft.Priority),
		Status:      freshdeskStatusOpen,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v2/tickets", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Freshdesk basic auth is api key as username, literal "X" as password.
	httpReq.SetBasicAuth(c.apiKey, "X")

	c.logger.Debug("filing ticket",
		"subject", draft.Subject,
		"priority", draft.Priority.String(),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyAPIError(resp)
	}

	var ticket freshdeskTicketResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		return nil, fmt.Errorf("decode ticket response: %w", err)
	}

	record := &Ticket{
		ID:       fmt.Sprintf("%d", ticket.ID),
		URL:      fmt.Sprintf("https://%s/a/tickets/%d", c.domain, ticket.ID),
		Priority: draft.Priority,
	}

	c.logger.Info("ticket filed",
		"ticket_id", record.ID,
		"priority", record.Priority.String(),
	)

	return record, nil
}

// classifyAPIError maps a non-2xx response to one of the sentinel
// errors, falling back to APIError for anything unrecognized.
func (c *FreshdeskClient) classifyAPIError(resp *http.Response) error {
	raw := httpkit.ReadErrorBody(resp.Body, 4096)

	var apiErr freshdeskErrorResponse
	_ = json.Unmarshal([]byte(raw), &apiErr)

	c.logger.Warn("ticket filing rejected",
		"status", resp.StatusCode,
		"code", apiErr.Code,
	)

	if resp.StatusCode == http.StatusUnauthorized || apiErr.Code == "invalid_credentials" {
		return fmt.Errorf("%w: status %d", ErrInvalidCredentials, resp.StatusCode)
	}
	if strings.Contains(strings.ToLower(raw), "email") {
		return fmt.Errorf("%w: status %d", ErrInvalidEmail, resp.StatusCode)
	}

	msg := apiErr.Message
	if msg == "" {
		msg = raw
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// classifyTransportError maps request-level failures (no HTTP response)
// to the timeout/connection sentinels.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
