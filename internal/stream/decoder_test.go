package stream

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

func collect(d *Decoder, fragments []string) []Frame {
	var frames []Frame
	for _, frag := range fragments {
		frames = append(frames, d.Feed(frag)...)
	}
	frames = append(frames, d.Flush()...)
	return frames
}

func TestDecoderFragmentationInvariance(t *testing.T) {
	t.Parallel()

	const full = "CHUNK:Hel\nCHUNK:lo\nDONE:Hello\n"

	splits := [][]string{
		{full},
		{"CHUNK:Hel\nCH", "UNK:lo\nDONE:Hello\n"},
		{"C", "H", "U", "N", "K", ":", "H", "e", "l", "\n", "CHUNK:lo\nDONE:Hello\n"},
		{"CHUNK:Hel", "\n", "CHUNK:lo", "\nDONE:Hello", "\n"},
	}

	want := collect(NewDecoder(nil), []string{full})
	if len(want) != 3 {
		t.Fatalf("whole-stream decode produced %d frames, want 3", len(want))
	}

	for i, frags := range splits {
		got := collect(NewDecoder(nil), frags)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("split %d: frames = %+v, want %+v", i, got, want)
		}
	}
}

func TestDecoderLineSplitAtBoundaryDecodesOnce(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	frames := d.Feed("CHUNK:partial tex")
	if len(frames) != 0 {
		t.Fatalf("incomplete line produced %d frames, want 0", len(frames))
	}
	frames = d.Feed("t continues\n")
	if len(frames) != 1 {
		t.Fatalf("completed line produced %d frames, want 1", len(frames))
	}
	if frames[0].Type != FrameChunk || frames[0].Text != "partial text continues" {
		t.Errorf("unexpected frame: %+v", frames[0])
	}
}

func TestDecoderFrameTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want Frame
	}{
		{
			name: "start frame",
			line: "START:sess-42\n",
			want: Frame{Type: FrameStart, SessionID: "sess-42"},
		},
		{
			name: "chunk with colon in payload",
			line: "CHUNK:note: check coolant\n",
			want: Frame{Type: FrameChunk, Text: "note: check coolant"},
		},
		{
			name: "error frame",
			line: "ERROR:model overloaded\n",
			want: Frame{Type: FrameError, Message: "model overloaded"},
		},
		{
			name: "bare done frame",
			line: "DONE:Replace the thermostat.\n",
			want: Frame{Type: FrameDone, FullText: "Replace the thermostat."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(nil)
			frames := d.Feed(tt.line)
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			if !reflect.DeepEqual(frames[0], tt.want) {
				t.Errorf("frame = %+v, want %+v", frames[0], tt.want)
			}
		})
	}
}

func TestDecoderDoneWithSignals(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	frames := d.Feed(`DONE:{"text":"Coolant leak found.","status":"DIAGNOSED","vehicle_detected":true}` + "\n")
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Type != FrameDone {
		t.Fatalf("frame type = %v, want FrameDone", f.Type)
	}
	if f.FullText != "Coolant leak found." {
		t.Errorf("full text = %q", f.FullText)
	}
	if f.Signals.Status == nil || *f.Signals.Status != domain.StatusDiagnosed {
		t.Errorf("status signal = %v, want DIAGNOSED", f.Signals.Status)
	}
	if !f.Signals.VehicleDetected {
		t.Error("vehicle_detected signal lost")
	}
}

func TestDecoderDropsMalformedLines(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	frames := d.Feed("CHUNK:ok\nGARBAGE\nBOGUS:tag\nDONE:{not json\nCHUNK:still ok\n")
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2 (malformed lines dropped)", len(frames))
	}
	if frames[0].Text != "ok" || frames[1].Text != "still ok" {
		t.Errorf("unexpected surviving frames: %+v", frames)
	}
	if d.DecodeErrors() != 3 {
		t.Errorf("decode errors = %d, want 3", d.DecodeErrors())
	}
}

func TestDecoderFlushDiscardsUnterminatedTail(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	if frames := d.Feed("CHUNK:done line\nCHUNK:never termin"); len(frames) != 1 {
		t.Fatalf("got %d frames before flush, want 1", len(frames))
	}
	if frames := d.Flush(); len(frames) != 0 {
		t.Fatalf("flush emitted %d frames, want 0", len(frames))
	}
	if d.DecodeErrors() != 1 {
		t.Errorf("decode errors = %d, want 1", d.DecodeErrors())
	}
	// A second flush is a no-op.
	if frames := d.Flush(); len(frames) != 0 || d.DecodeErrors() != 1 {
		t.Error("flush is not idempotent")
	}
}

func TestDecoderCRLFAndBlankLines(t *testing.T) {
	t.Parallel()

	d := NewDecoder(nil)
	frames := d.Feed("CHUNK:a\r\n\r\nCHUNK:b\r\n")
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Text != "a" || frames[1].Text != "b" {
		t.Errorf("unexpected frames: %+v", frames)
	}
	if d.DecodeErrors() != 0 {
		t.Errorf("blank lines should not count as decode errors, got %d", d.DecodeErrors())
	}
}

func TestPreviewKeepsRuneBoundary(t *testing.T) {
	t.Parallel()

	short := "DONE:ok"
	if got := preview(short); got != short {
		t.Errorf("short input should pass through, got %q", got)
	}

	long := strings.Repeat("日", 40)
	got := preview(long)
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected truncation marker, got %q", got)
	}
}
