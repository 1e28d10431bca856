// Package domain contains core domain types for the call relay.
package domain

// Role identifies the speaker of a Turn.
type Role string

const (
	// RoleUser marks an utterance transcribed from the caller.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the responder.
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged utterance in a call's history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn returns a Turn spoken by the caller.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn returns a Turn spoken by the responder.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
