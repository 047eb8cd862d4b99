// Package chat implements the streaming chat session engine: it sends user
// utterances to the responder, reconstructs the streamed reply, applies the
// structured signals it carries, and advances the job-card lifecycle.
package chat

import (
	"context"
	"errors"
	"iter"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
	"github.com/wrenchdesk/wrenchdesk/internal/responder"
)

var (
	// ErrEmptyMessage rejects a send with no text and no attachment.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrTurnInFlight rejects a send while another turn holds the
	// session's in-flight guard. Concurrent turns are refused, not queued.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
	// ErrSessionNotFound rejects a send against a session that does not
	// exist or belongs to another user.
	ErrSessionNotFound = errors.New("session not found")
	// ErrResponderFailed wraps an ERROR frame from the responder.
	ErrResponderFailed = errors.New("responder reported an error")
)

// apologyText is the fixed, locally-synthesized assistant message appended
// when a turn fails. Never AI-generated: a failed turn must not hallucinate
// a response.
const apologyText = "Sorry, I ran into a problem while preparing a reply. Please try sending your message again."

// Transport opens one streamed turn against the responder and yields raw
// transport fragments. Implemented by responder.Client.
type Transport interface {
	Stream(ctx context.Context, req responder.TurnRequest) iter.Seq2[string, error]
}

// TurnEventType labels the progressive events surfaced during a turn.
type TurnEventType string

const (
	// EventStart opens the turn on the client stream.
	EventStart TurnEventType = "start"
	// EventDelta carries one appended piece of the in-progress reply. The
	// accumulated text only ever grows by suffix, never shrinks.
	EventDelta TurnEventType = "delta"
	// EventDone closes the turn with the authoritative reply and signals.
	EventDone TurnEventType = "done"
	// EventError closes the turn after a failure.
	EventError TurnEventType = "error"
)

// TurnEvent is one progressive event surfaced to the caller during a turn.
type TurnEvent struct {
	Type      TurnEventType          `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Delta     string                 `json:"delta,omitempty"`
	Text      string                 `json:"text,omitempty"`
	JobStatus string                 `json:"job_status,omitempty"`
	Vehicle   *domain.VehicleContext `json:"vehicle,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// TurnResult is the final outcome of one completed Send call.
type TurnResult struct {
	Session   *domain.ChatSession
	User      domain.Message
	Assistant domain.Message
	JobCard   *domain.JobCard
	// Cancelled is set when the caller aborted the turn or the idle
	// timeout fired; the partial assistant text is not in the transcript.
	Cancelled bool
	// Failed is set when the turn ended with the apology message instead
	// of a responder reply.
	Failed bool
}
