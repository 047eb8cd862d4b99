package domain

import (
	"time"
)

// ChatSession is an ordered, named container of messages representing one
// conversation between a workshop user and the assistant.
//
// Messages are kept in insertion order (conversation order) and are never
// reordered. The transcript is append-only.
type ChatSession struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	Vehicle   VehicleContext `json:"vehicle"`
	Messages  []Message      `json:"messages,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	// ResponderID is the session identifier assigned by the remote
	// intelligence service, adopted from the first START frame and echoed
	// back on later turns so the responder can keep its own context.
	ResponderID string `json:"responder_id,omitempty"`
}

// Append adds a message to the end of the transcript.
func (s *ChatSession) Append(m Message) {
	s.Messages = append(s.Messages, m)
	s.UpdatedAt = m.CreatedAt
}

// LastMessage returns the most recent message, or nil for an empty transcript.
func (s *ChatSession) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}
