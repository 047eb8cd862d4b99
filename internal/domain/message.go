// Package domain contains core domain types for the Wrenchdesk application.
package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in a session transcript.
//
// While Streaming is true the content may only be appended to; once a
// message is finalized (Streaming false) it is immutable.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Streaming bool      `json:"streaming"`
}
