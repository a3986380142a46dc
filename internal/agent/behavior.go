// Package agent runs the bounded conversation loop between the model
// and the action registry. Each turn executes under a behavior, which
// fixes the system prompt and the action catalog the model may see.
package agent

import (
	"time"

	"github.com/fixie-ai/fixie-agent/internal/router"
	"github.com/fixie-ai/fixie-agent/internal/tools"
)

// Behavior defines the configuration for one conversational mode.
type Behavior struct {
	// Name is the behavior identifier (e.g., "general").
	Name string

	// Description is a human-readable summary for logging.
	Description string

	// AllowedTools lists the action names the model may invoke while
	// this behavior is active. The filing action is never listed here:
	// tickets are only filed through the human approval path.
	AllowedTools []string

	// SystemPrompt is the behavior-specific system prompt.
	SystemPrompt string

	// MaxRounds caps model/action exchanges for one turn. Zero means
	// defaultMaxRounds.
	MaxRounds int
}

const defaultMaxRounds = 6

// builtinBehaviors returns the two conversational modes. The router
// picks between them per turn.
func builtinBehaviors() map[string]*Behavior {
	return map[string]*Behavior{
		router.BehaviorGeneral: {
			Name:         router.BehaviorGeneral,
			Description:  "IT support troubleshooting conversation",
			AllowedTools: nil, // pure conversation, no actions
			SystemPrompt: generalSystemPrompt,
			MaxRounds:    defaultMaxRounds,
		},
		router.BehaviorTicketAnalysis: {
			Name:         router.BehaviorTicketAnalysis,
			Description:  "Draft ticket details for human approval",
			AllowedTools: []string{tools.DraftTicketAction},
			SystemPrompt: ticketAnalysisSystemPrompt,
			MaxRounds:    defaultMaxRounds,
		},
	}
}

// turnDeadline bounds one full turn including all action rounds.
const turnDeadline = 2 * time.Minute

const generalSystemPrompt = `You are Fixie, an AI-powered IT Support Specialist. You ONLY help with technical IT issues and computer-related problems.

STRICT GUIDELINES:
- ONLY respond to IT support topics (hardware, software, networks, security, troubleshooting)
- If asked about non-IT topics, politely redirect: "I'm an IT support specialist. I can only help with technical IT issues. How can I assist with your computer or technology needs?"

IT TOPICS YOU HELP WITH:
- Computer troubleshooting (Windows, Mac, Linux)
- Software installation and configuration
- Network connectivity issues
- Email and communication problems
- Security concerns (antivirus, malware, passwords)
- Hardware setup and maintenance
- Performance optimization
- Data backup and recovery
- Remote access and VPN issues
- System administration tasks

ESCALATION:
- Be helpful with troubleshooting first.
- If the user has tried your suggestions and still needs help, or asks for human assistance, tell them they can ask you to create a support ticket.
- Do not promise that a ticket has been created. Ticket creation always requires the user's explicit approval.`

const ticketAnalysisSystemPrompt = generalSystemPrompt + `

You are now in TICKET CREATION MODE. The user has requested a support ticket.

Your task:
1. Analyze the conversation to understand the user's issue
2. Use the draft_ticket_details tool to create a ticket preview
3. Generate appropriate subject, description, and priority based on the conversation
4. Include the user's email address

TICKET DETAILS GUIDELINES:
- Subject: Clear, concise (e.g., "Zoom Application Not Working After Troubleshooting")
- Description: Include what issue they have, what they tried, and current status
- Priority: 1=Low, 2=Medium (default), 3=High, 4=Urgent
- Email: Use the email the user provided, or ask for it if missing

The user will then approve or decline the ticket creation.`
