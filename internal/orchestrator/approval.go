package orchestrator

import "github.com/fixie-ai/fixie-agent/internal/memory"

// Approval actions a client can send instead of a chat message. They
// resolve a pending ticket draft without going through the router or
// the model.
const (
	ActionApproveTicket = "approve_ticket"
	ActionDeclineTicket = "decline_ticket"
)

// Fixed replies for the approval path.
const (
	declineReplyText = "I understand you don't want to create a ticket right now. Is there anything else I can help you with?"

	noPendingTicketText = "There's no ticket waiting for approval right now. Describe the issue and I can draft one for you."
)

// GateState names a conversation's position in the approval flow, for
// logging and the debug endpoint.
type GateState string

const (
	// GateIdle means no draft exists and no approval is pending.
	GateIdle GateState = "idle"

	// GateAwaitingApproval means a draft has been presented and the
	// conversation is blocked on a human decision.
	GateAwaitingApproval GateState = "awaiting_approval"
)

func gateStateOf(conv *memory.Conversation) GateState {
	if conv.AwaitingApproval && conv.Draft != nil {
		return GateAwaitingApproval
	}
	return GateIdle
}

// IsApprovalAction reports whether the action string resolves a pending
// approval rather than carrying a chat message.
func IsApprovalAction(action string) bool {
	return action == ActionApproveTicket || action == ActionDeclineTicket
}
