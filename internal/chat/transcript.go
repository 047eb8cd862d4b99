package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// TranscriptEvent is one NDJSON record in the conversation audit log.
type TranscriptEvent struct {
	Timestamp string         `json:"ts"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// TranscriptLogger records chat events for offline review. Logging is
// best-effort observability; it never blocks or fails a turn.
type TranscriptLogger interface {
	Log(event TranscriptEvent)
	Close() error
}

// NoopTranscriptLogger discards all events.
type NoopTranscriptLogger struct{}

func (NoopTranscriptLogger) Log(TranscriptEvent) {}
func (NoopTranscriptLogger) Close() error        { return nil }

// TranscriptLogConfig controls NDJSON transcript logging.
type TranscriptLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ndjsonTranscriptLogger writes one file per user/session under Dir, and
// optionally a combined file at GlobalPath. Writes happen on a single
// background goroutine fed by a bounded queue; when the queue is full the
// event is dropped with a warning rather than stalling a turn.
type ndjsonTranscriptLogger struct {
	cfg    TranscriptLogConfig
	logger *slog.Logger
	queue  chan TranscriptEvent
	done   chan struct{}
	once   sync.Once
}

// NewTranscriptLogger creates the NDJSON logger, or a noop logger when
// disabled.
func NewTranscriptLogger(cfg TranscriptLogConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return NoopTranscriptLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript log directory: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0755); err != nil {
			return nil, fmt.Errorf("create global transcript log directory: %w", err)
		}
	}

	l := &ndjsonTranscriptLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan TranscriptEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event without blocking.
func (l *ndjsonTranscriptLogger) Log(event TranscriptEvent) {
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("transcript log queue full, dropping event",
			"user_id", event.UserID,
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

// Close drains the queue and stops the writer goroutine.
func (l *ndjsonTranscriptLogger) Close() error {
	l.once.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *ndjsonTranscriptLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		l.write(event)
	}
}

func (l *ndjsonTranscriptLogger) write(event TranscriptEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("failed to encode transcript event", "error", err)
		return
	}
	line = append(line, '\n')

	sessionPath := filepath.Join(l.cfg.Dir, sanitizePathPart(event.UserID), sanitizePathPart(event.SessionID)+".ndjson")
	l.appendLine(sessionPath, line)

	if l.cfg.GlobalEnabled {
		l.appendLine(l.cfg.GlobalPath, line)
	}
}

func (l *ndjsonTranscriptLogger) appendLine(path string, line []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		l.logger.Warn("failed to create transcript log directory", "path", path, "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Warn("failed to open transcript log file", "path", path, "error", err)
		return
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("failed to write transcript log line", "path", path, "error", err)
	}
	if err := f.Close(); err != nil {
		l.logger.Warn("failed to close transcript log file", "path", path, "error", err)
	}
}

// sanitizePathPart keeps IDs filesystem-safe.
func sanitizePathPart(s string) string {
	if s == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
