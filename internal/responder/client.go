// Package responder provides the transport to the remote intelligence
// service that generates diagnostic and estimate content.
//
// One turn is one websocket connection: the client writes a single JSON
// request, then reads text messages until the server closes. Each received
// message is a raw fragment of the newline-delimited frame protocol — it
// may end mid-line or contain several lines — and is passed through
// unparsed; decoding belongs to the stream package.
package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

// TurnRequest carries everything the responder needs to answer one turn.
type TurnRequest struct {
	// SessionID is the responder-side session identifier from an earlier
	// START frame, empty on the first turn of a session.
	SessionID string `json:"session_id,omitempty"`
	// Message is the new user utterance.
	Message string `json:"message"`
	// Transcript is the prior conversation, oldest first, for turn context.
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	// Vehicle is the session's current vehicle context.
	Vehicle domain.VehicleContext `json:"vehicle,omitempty"`
	// JobStatus is the current lifecycle stage, empty when no job card
	// exists yet.
	JobStatus string `json:"job_status,omitempty"`
	// AttachmentID references an uploaded attachment, opaque to this core.
	AttachmentID string `json:"attachment_id,omitempty"`
}

// TranscriptEntry is one prior message in wire form.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client dials the responder service for each turn.
type Client struct {
	addr        string
	dialTimeout time.Duration
	logger      *slog.Logger
}

// NewClient creates a responder client for the given websocket URL.
func NewClient(addr string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		addr:        addr,
		dialTimeout: 10 * time.Second,
		logger:      logger,
	}
}

// Stream opens one turn against the responder and yields raw transport
// fragments in arrival order. The sequence ends when the server closes the
// connection normally; any other failure is yielded as the final error.
// Cancelling ctx tears the connection down and ends the sequence.
func (c *Client) Stream(ctx context.Context, req TurnRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		conn, _, err := websocket.Dial(dialCtx, c.addr, nil)
		cancel()
		if err != nil {
			yield("", fmt.Errorf("dial responder at %s: %w", c.addr, err))
			return
		}
		defer func() {
			if closeErr := conn.Close(websocket.StatusNormalClosure, "turn complete"); closeErr != nil {
				c.logger.Debug("responder connection close", "error", closeErr)
			}
		}()

		payload, err := json.Marshal(req)
		if err != nil {
			yield("", fmt.Errorf("encode turn request: %w", err))
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			yield("", fmt.Errorf("send turn request: %w", err))
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return
				}
				if ctx.Err() != nil {
					yield("", ctx.Err())
					return
				}
				var closeErr websocket.CloseError
				if errors.As(err, &closeErr) {
					yield("", fmt.Errorf("responder closed stream: %s (%d)", closeErr.Reason, closeErr.Code))
					return
				}
				yield("", fmt.Errorf("read responder stream: %w", err))
				return
			}
			if !yield(string(data), nil) {
				return
			}
		}
	}
}
