package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
	"github.com/wrenchdesk/wrenchdesk/internal/lifecycle"
	"github.com/wrenchdesk/wrenchdesk/internal/quota"
	"github.com/wrenchdesk/wrenchdesk/internal/responder"
	"github.com/wrenchdesk/wrenchdesk/internal/store"
	"github.com/wrenchdesk/wrenchdesk/internal/stream"
	"github.com/wrenchdesk/wrenchdesk/internal/vehicle"
)

const maxTitleLen = 48

// Service is the chat session orchestrator. It owns the in-memory
// transcripts and the per-session in-flight guards; nothing else mutates
// them. One Service serves all sessions of the process.
type Service struct {
	repo        store.Repository
	transport   Transport
	gate        *quota.Gate
	transcripts TranscriptLogger
	logger      *slog.Logger
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	sessions map[string]*domain.ChatSession
}

// NewService creates the orchestrator. idleTimeout of zero disables the
// stream idle watchdog.
func NewService(repo store.Repository, transport Transport, gate *quota.Gate, transcripts TranscriptLogger, logger *slog.Logger, idleTimeout time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if transcripts == nil {
		transcripts = NoopTranscriptLogger{}
	}
	return &Service{
		repo:        repo,
		transport:   transport,
		gate:        gate,
		transcripts: transcripts,
		logger:      logger,
		idleTimeout: idleTimeout,
		now:         time.Now,
		inFlight:    make(map[string]struct{}),
		sessions:    make(map[string]*domain.ChatSession),
	}
}

// Send runs one full turn: quota, user message, responder stream, signal
// application, persistence. Progressive events are delivered through emit
// (may be nil). The in-flight guard is released on every path.
//
// Cancelling ctx aborts the turn; the partial assistant text is then
// discarded from the transcript rather than finalized.
func (s *Service) Send(ctx context.Context, userID, sessionID, text, attachmentID string, emit func(TurnEvent)) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" && attachmentID == "" {
		return nil, ErrEmptyMessage
	}
	if emit == nil {
		emit = func(TurnEvent) {}
	}

	sess, err := s.ensureSession(ctx, userID, sessionID, text)
	if err != nil {
		return nil, err
	}

	if !s.acquire(sess.ID) {
		return nil, ErrTurnInFlight
	}
	defer s.release(sess.ID)

	now := s.now()
	if err := s.gate.TryConsume(ctx, userID, quota.Today(now)); err != nil {
		return nil, err
	}

	userMsg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: now,
	}
	prior := transcriptEntries(sess.Messages)
	sess.Append(userMsg)
	s.persistMessage(ctx, &userMsg)
	s.logTranscript(userID, sess.ID, "chat_user_message", string(domain.RoleUser), text)

	card, err := s.repo.GetJobCard(ctx, sess.ID)
	if err != nil {
		s.logger.Warn("failed to load job card", "session_id", sess.ID, "error", err)
		card = nil
	}

	treq := responder.TurnRequest{
		SessionID:    sess.ResponderID,
		Message:      text,
		Transcript:   prior,
		Vehicle:      sess.Vehicle,
		AttachmentID: attachmentID,
	}
	if card != nil {
		treq.JobStatus = card.Status.String()
	}

	assistant := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Role:      domain.RoleAssistant,
		CreatedAt: s.now(),
		Streaming: true,
	}
	emit(TurnEvent{Type: EventStart, SessionID: sess.ID, MessageID: assistant.ID})

	done, streamErr := s.runStream(ctx, treq, sess, &assistant, emit)

	switch {
	case done != nil:
		// The server's authoritative full text wins over whatever the
		// decoder accumulated.
		assistant.Content = done.FullText
		assistant.Streaming = false
		sess.Append(assistant)
		s.persistMessage(ctx, &assistant)
		card = s.applySignals(ctx, sess, userMsg.Content, card, done.Signals)
		s.persistSession(ctx, sess)
		s.logTranscript(userID, sess.ID, "chat_assistant_message", string(domain.RoleAssistant), assistant.Content)

		doneEvent := TurnEvent{Type: EventDone, SessionID: sess.ID, MessageID: assistant.ID, Text: assistant.Content}
		if card != nil {
			doneEvent.JobStatus = card.Status.String()
		}
		if !sess.Vehicle.IsEmpty() {
			v := sess.Vehicle
			doneEvent.Vehicle = &v
		}
		emit(doneEvent)
		return &TurnResult{Session: sess, User: userMsg, Assistant: assistant, JobCard: card}, nil

	case errors.Is(streamErr, context.Canceled) || ctx.Err() != nil:
		s.logger.Info("turn cancelled",
			"session_id", sess.ID,
			"received_bytes", len(assistant.Content),
		)
		s.logTranscript(userID, sess.ID, "chat_turn_cancelled", "", "")
		return &TurnResult{Session: sess, User: userMsg, Assistant: assistant, JobCard: card, Cancelled: true}, nil

	default:
		// ERROR frame, transport failure, or the stream ended without a
		// DONE frame. Append the fixed apology; never retry automatically.
		s.logger.Error("turn failed", "session_id", sess.ID, "error", streamErr)
		apology := domain.Message{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Role:      domain.RoleAssistant,
			Content:   apologyText,
			CreatedAt: s.now(),
		}
		sess.Append(apology)
		s.persistMessage(ctx, &apology)
		s.logTranscript(userID, sess.ID, "chat_turn_failed", string(domain.RoleAssistant), apologyText)
		emit(TurnEvent{Type: EventError, SessionID: sess.ID, MessageID: apology.ID, Message: apologyText})
		return &TurnResult{Session: sess, User: userMsg, Assistant: apology, JobCard: card, Failed: true}, nil
	}
}

// runStream feeds the responder's fragments through a fresh decoder and
// applies CHUNK frames to the in-progress assistant message. It returns the
// DONE frame when one arrived, otherwise the terminating error.
func (s *Service) runStream(ctx context.Context, treq responder.TurnRequest, sess *domain.ChatSession, assistant *domain.Message, emit func(TurnEvent)) (*stream.Frame, error) {
	streamCtx := ctx
	var idle *time.Timer
	if s.idleTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		// The watchdog synthesizes a cancellation when no fragment arrives
		// within the idle interval, so the UI never stays "thinking" forever.
		idle = time.AfterFunc(s.idleTimeout, cancel)
		defer idle.Stop()
	}

	dec := stream.NewDecoder(s.logger)
	var done *stream.Frame
	var streamErr error

receive:
	for fragment, err := range s.transport.Stream(streamCtx, treq) {
		if err != nil {
			streamErr = err
			break
		}
		if idle != nil {
			idle.Reset(s.idleTimeout)
		}
		for _, frame := range dec.Feed(fragment) {
			switch frame.Type {
			case stream.FrameStart:
				if sess.ResponderID == "" {
					sess.ResponderID = frame.SessionID
				}
			case stream.FrameChunk:
				assistant.Content += frame.Text
				emit(TurnEvent{Type: EventDelta, SessionID: sess.ID, MessageID: assistant.ID, Delta: frame.Text})
			case stream.FrameDone:
				f := frame
				done = &f
				break receive
			case stream.FrameError:
				streamErr = fmt.Errorf("%w: %s", ErrResponderFailed, frame.Message)
				break receive
			}
		}
	}
	dec.Flush()
	if n := dec.DecodeErrors(); n > 0 {
		s.logger.Warn("turn stream had malformed lines", "session_id", sess.ID, "dropped", n)
	}

	if done == nil && streamErr == nil {
		streamErr = errors.New("stream ended without DONE frame")
	}
	return done, streamErr
}

// applySignals applies a DONE frame's structured signals: vehicle
// identification (re-derived locally from the user's own text, merge-only)
// and lifecycle stage advancement. A job card is created the first time a
// vehicle is identified; a stage signal with no job card is logged and
// dropped.
func (s *Service) applySignals(ctx context.Context, sess *domain.ChatSession, userText string, card *domain.JobCard, sig stream.Signals) *domain.JobCard {
	if sig.VehicleDetected && sess.Vehicle.RegistrationNumber == "" {
		if plate, ok := vehicle.ExtractPlate(userText); ok {
			sess.Vehicle.Merge(domain.VehicleContext{RegistrationNumber: plate})
			s.logger.Info("vehicle registered", "session_id", sess.ID, "registration", plate)
			if card == nil {
				now := s.now()
				card = &domain.JobCard{
					SessionID: sess.ID,
					Status:    domain.StatusCreated,
					CreatedAt: now,
					UpdatedAt: now,
				}
			}
		} else {
			s.logger.Warn("vehicle-detected signal without a local plate match", "session_id", sess.ID)
		}
	}

	if sig.Status != nil {
		if card == nil {
			s.logger.Warn("lifecycle signal without job card",
				"session_id", sess.ID,
				"requested", sig.Status.String(),
			)
		} else {
			next, rejected := lifecycle.Apply(card.Status, *sig.Status)
			if rejected {
				s.logger.Warn("lifecycle regression rejected",
					"session_id", sess.ID,
					"current", card.Status.String(),
					"requested", sig.Status.String(),
				)
			} else if next != card.Status {
				card.Status = next
				card.UpdatedAt = s.now()
			}
		}
	}

	if card != nil {
		if err := s.repo.UpsertJobCard(ctx, card); err != nil {
			s.logger.Warn("failed to persist job card", "session_id", sess.ID, "error", err)
		}
	}
	return card
}

// ensureSession resolves or creates the session for a send. Session
// creation is an explicit step before the turn begins, never interleaved
// with it.
func (s *Service) ensureSession(ctx context.Context, userID, sessionID, text string) (*domain.ChatSession, error) {
	if sessionID != "" {
		s.mu.Lock()
		sess, ok := s.sessions[sessionID]
		s.mu.Unlock()
		if ok {
			if sess.UserID != userID {
				return nil, ErrSessionNotFound
			}
			return sess, nil
		}

		sess, err := s.repo.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if sess == nil || sess.UserID != userID {
			return nil, ErrSessionNotFound
		}
		msgs, err := s.repo.ListMessages(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load transcript: %w", err)
		}
		sess.Messages = msgs

		s.mu.Lock()
		if cached, ok := s.sessions[sessionID]; ok {
			sess = cached
		} else {
			s.sessions[sessionID] = sess
		}
		s.mu.Unlock()
		return sess, nil
	}

	now := s.now()
	sess := &domain.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     deriveTitle(text),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		// The in-memory session stays authoritative for this process.
		s.logger.Warn("failed to persist new session", "session_id", sess.ID, "error", err)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

// Session returns the in-memory session when the orchestrator holds one.
func (s *Service) Session(sessionID string) (*domain.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Forget drops a session from the in-memory cache, for use after the
// presentation layer deletes it from the store.
func (s *Service) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *Service) acquire(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sessionID)
}

// persistMessage writes a message to the store. Failures are logged, never
// propagated: the in-memory transcript stays authoritative.
func (s *Service) persistMessage(ctx context.Context, msg *domain.Message) {
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to persist message",
			"session_id", msg.SessionID,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// persistSession writes the session's mutable fields to the store.
func (s *Service) persistSession(ctx context.Context, sess *domain.ChatSession) {
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		s.logger.Warn("failed to persist session", "session_id", sess.ID, "error", err)
	}
}

func (s *Service) logTranscript(userID, sessionID, eventType, role, content string) {
	s.transcripts.Log(TranscriptEvent{
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		UserID:    userID,
		SessionID: sessionID,
		EventType: eventType,
		Role:      role,
		Content:   content,
	})
}

func transcriptEntries(msgs []domain.Message) []responder.TranscriptEntry {
	if len(msgs) == 0 {
		return nil
	}
	entries := make([]responder.TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, responder.TranscriptEntry{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return entries
}

func deriveTitle(text string) string {
	if text == "" {
		return "New job enquiry"
	}
	if len(text) <= maxTitleLen {
		return text
	}
	cut := strings.LastIndexByte(text[:maxTitleLen], ' ')
	if cut <= 0 {
		// No space to cut at; back up to a rune boundary so multi-byte
		// text never ends up stored as invalid UTF-8.
		cut = maxTitleLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	}
	return text[:cut] + "…"
}
