package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
	"github.com/wrenchdesk/wrenchdesk/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	counterMu sync.Mutex // Serializes usage counter writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		vehicle_json TEXT NOT NULL DEFAULT '{}',
		responder_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS job_cards (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_counters (
		user_id TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		day TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// CreateSession stores a new chat session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	vehicleJSON, err := json.Marshal(session.Vehicle)
	if err != nil {
		return fmt.Errorf("encode vehicle context: %w", err)
	}

	query := `
	INSERT INTO sessions (session_id, user_id, title, vehicle_json, responder_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.Title, string(vehicleJSON),
		session.ResponderID, session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	var vehicleJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Title, &vehicleJSON,
		&sess.ResponderID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(vehicleJSON), &sess.Vehicle); err != nil {
		return nil, fmt.Errorf("decode vehicle context: %w", err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// GetSession retrieves a session by ID without its messages.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `
		SELECT session_id, user_id, title, vehicle_json, responder_id, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions retrieves a user's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	query := `
		SELECT session_id, user_id, title, vehicle_json, responder_id, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSession persists the mutable fields of an existing session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *domain.ChatSession) error {
	vehicleJSON, err := json.Marshal(session.Vehicle)
	if err != nil {
		return fmt.Errorf("encode vehicle context: %w", err)
	}

	query := `
	UPDATE sessions SET title = ?, vehicle_json = ?, responder_id = ?, updated_at = ?
	WHERE session_id = ?`

	result, err := s.db.ExecContext(ctx, query,
		session.Title, string(vehicleJSON), session.ResponderID,
		session.UpdatedAt.Unix(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateSession affected 0 rows", "session_id", session.ID)
	}
	return nil
}

// DeleteSession removes a session with its messages and job card.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, q := range []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM job_cards WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// AppendMessage stores one finalized message at the end of a transcript.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	query := `
	INSERT INTO messages (message_id, session_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages retrieves a session's messages in conversation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	query := `
		SELECT message_id, session_id, role, content, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// GetJobCard retrieves the job card for a session.
func (s *SQLiteStore) GetJobCard(ctx context.Context, sessionID string) (*domain.JobCard, error) {
	query := `SELECT session_id, status, created_at, updated_at FROM job_cards WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var card domain.JobCard
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(&card.SessionID, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job card row: %w", err)
	}

	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored job card status: %w", err)
	}
	card.Status = parsed
	card.CreatedAt = time.Unix(createdAt, 0)
	card.UpdatedAt = time.Unix(updatedAt, 0)
	return &card, nil
}

// UpsertJobCard creates or updates a session's job card.
func (s *SQLiteStore) UpsertJobCard(ctx context.Context, card *domain.JobCard) error {
	query := `
	INSERT INTO job_cards (session_id, status, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		card.SessionID, card.Status.String(), card.CreatedAt.Unix(), card.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert job card: %w", err)
	}
	return nil
}

// GetUsageCounter retrieves the daily send counter for a user.
func (s *SQLiteStore) GetUsageCounter(ctx context.Context, userID string) (domain.UsageCounter, error) {
	query := `SELECT count, day FROM usage_counters WHERE user_id = ?`

	var counter domain.UsageCounter
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&counter.Count, &counter.Day)
	if err == sql.ErrNoRows {
		return domain.UsageCounter{}, nil
	}
	if err != nil {
		return domain.UsageCounter{}, fmt.Errorf("scan usage counter: %w", err)
	}
	return counter, nil
}

// SetUsageCounter persists the daily send counter for a user.
func (s *SQLiteStore) SetUsageCounter(ctx context.Context, userID string, counter domain.UsageCounter) error {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	query := `
	INSERT INTO usage_counters (user_id, count, day, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		count = excluded.count,
		day = excluded.day,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, userID, counter.Count, counter.Day, time.Now().Unix())
	if err != nil && shared.IsSQLiteConflictError(err) {
		// One retry on lock contention; the busy_timeout pragma covers the rest.
		_, err = s.db.ExecContext(ctx, query, userID, counter.Count, counter.Day, time.Now().Unix())
	}
	if err != nil {
		return fmt.Errorf("set usage counter: %w", err)
	}
	return nil
}
