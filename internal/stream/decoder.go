package stream

import (
	"log/slog"
	"strings"
)

// Decoder reassembles protocol frames from transport fragments.
//
// A fragment may end in the middle of a line; the unterminated tail is
// carried over and prepended to the next fragment, so a line split exactly
// at a fragment boundary still decodes to one frame. Decoder is stateful
// and belongs to a single turn; it is not safe for concurrent use.
type Decoder struct {
	carry        string
	logger       *slog.Logger
	decodeErrors int
}

// NewDecoder creates a decoder for one stream.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed appends a fragment to the carry-over buffer and returns a frame for
// every line that is now complete, in transmission order. A line that does
// not conform to the frame encoding is dropped and counted, never emitted:
// one bad line must not abort the rest of the response.
func (d *Decoder) Feed(fragment string) []Frame {
	data := d.carry + fragment

	var frames []Frame
	for {
		line, rest, found := strings.Cut(data, "\n")
		if !found {
			break
		}
		data = rest

		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}

		frame, err := parseLine(line)
		if err != nil {
			d.decodeErrors++
			d.logger.Warn("dropping malformed frame line", "error", err)
			continue
		}
		frames = append(frames, frame)
	}

	d.carry = data
	return frames
}

// Flush is called at stream end. Any unterminated trailing line is
// incomplete by definition and is discarded, not emitted.
func (d *Decoder) Flush() []Frame {
	if d.carry != "" {
		d.decodeErrors++
		d.logger.Warn("discarding unterminated trailing line", "tail", preview(d.carry))
		d.carry = ""
	}
	return nil
}

// DecodeErrors reports how many lines were dropped as malformed or
// incomplete since the decoder was created.
func (d *Decoder) DecodeErrors() int {
	return d.decodeErrors
}
