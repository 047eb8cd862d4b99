// Package stream decodes the responder's newline-delimited frame protocol.
//
// The responder emits UTF-8 text lines, one frame per line, as TAG:payload.
// The transport below it delivers arbitrary fragments that may split a line
// in half or glue several lines together; Decoder reassembles them.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

// FrameType identifies the four frame shapes of the protocol.
type FrameType int

const (
	// FrameStart carries the responder-assigned session identifier.
	FrameStart FrameType = iota
	// FrameChunk carries an incremental piece of the response text.
	FrameChunk
	// FrameDone carries the authoritative full response text plus signals.
	FrameDone
	// FrameError carries a human-readable failure description.
	FrameError
)

// Signals are the structured controls a DONE frame may carry.
type Signals struct {
	// Status is the lifecycle stage the responder determined was reached,
	// nil when the frame carries no stage signal.
	Status *domain.Status
	// VehicleDetected marks that the responder recognized a vehicle
	// identifier in the turn. The identifier itself is re-derived locally
	// from the user's own text, never trusted from the wire.
	VehicleDetected bool
}

// Frame is one decoded unit of the streaming protocol.
type Frame struct {
	Type      FrameType
	SessionID string  // FrameStart
	Text      string  // FrameChunk
	FullText  string  // FrameDone
	Signals   Signals // FrameDone
	Message   string  // FrameError
}

var (
	errMissingTag = errors.New("line has no tag separator")
	errUnknownTag = errors.New("unknown frame tag")
	errBadDone    = errors.New("malformed DONE payload")
)

// donePayload is the JSON form of a DONE frame's payload.
type donePayload struct {
	Text            string `json:"text"`
	Status          string `json:"status,omitempty"`
	VehicleDetected bool   `json:"vehicle_detected,omitempty"`
}

// parseLine decodes a single complete protocol line into a frame.
func parseLine(line string) (Frame, error) {
	tag, payload, ok := strings.Cut(line, ":")
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q", errMissingTag, preview(line))
	}

	switch tag {
	case "START":
		return Frame{Type: FrameStart, SessionID: strings.TrimSpace(payload)}, nil
	case "CHUNK":
		return Frame{Type: FrameChunk, Text: payload}, nil
	case "ERROR":
		return Frame{Type: FrameError, Message: payload}, nil
	case "DONE":
		return parseDone(payload)
	default:
		return Frame{}, fmt.Errorf("%w: %q", errUnknownTag, preview(tag))
	}
}

// parseDone accepts either a JSON object payload carrying text and signals,
// or a bare-text payload with no signals.
func parseDone(payload string) (Frame, error) {
	if !strings.HasPrefix(strings.TrimSpace(payload), "{") {
		return Frame{Type: FrameDone, FullText: payload}, nil
	}

	var p donePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errBadDone, err)
	}

	f := Frame{
		Type:     FrameDone,
		FullText: p.Text,
		Signals:  Signals{VehicleDetected: p.VehicleDetected},
	}
	if p.Status != "" {
		status, err := domain.ParseStatus(p.Status)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %v", errBadDone, err)
		}
		f.Signals.Status = &status
	}
	return f, nil
}

// preview truncates a line for log output, on a rune boundary.
func preview(s string) string {
	const max = 60
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
