// ABOUTME: Conversation turns exchanged with LLM backends and role inference from senders
// ABOUTME: Turns are ordered oldest to newest and never modified after construction

package conversation

import "github.com/null-object-0000/feishu-bridge/internal/feishu"

// Role identifies who authored a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RoleForSender maps a platform sender type onto a turn role. Apps and bots
// are the assistant, everyone else is the user.
func RoleForSender(senderType string) Role {
	switch senderType {
	case feishu.SenderApp, "bot":
		return RoleAssistant
	default:
		return RoleUser
	}
}
