// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

// Repository defines the interface for persisting chat and job-card data.
//
// The orchestrator treats it as a gateway: its failures are logged but
// never block or corrupt the in-memory transcript.
type Repository interface {
	// GetUser retrieves a user by their user ID, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateSession stores a new chat session.
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession retrieves a session by ID without its messages, nil when
	// absent.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// ListSessions retrieves a user's sessions, most recently updated first.
	ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// UpdateSession persists title, vehicle context, responder ID and
	// updated_at for an existing session.
	UpdateSession(ctx context.Context, session *domain.ChatSession) error

	// DeleteSession removes a session with its messages and job card.
	// The orchestrator never calls this; it exists for the presentation
	// layer.
	DeleteSession(ctx context.Context, sessionID string) error

	// AppendMessage stores one finalized message at the end of a session's
	// transcript.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages retrieves a session's messages in conversation order.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// GetJobCard retrieves the job card for a session, nil when absent.
	GetJobCard(ctx context.Context, sessionID string) (*domain.JobCard, error)

	// UpsertJobCard creates or updates a session's job card.
	UpsertJobCard(ctx context.Context, card *domain.JobCard) error

	// GetUsageCounter retrieves the daily send counter for a user. A user
	// with no stored counter gets the zero counter.
	GetUsageCounter(ctx context.Context, userID string) (domain.UsageCounter, error)

	// SetUsageCounter persists the daily send counter for a user.
	SetUsageCounter(ctx context.Context, userID string, counter domain.UsageCounter) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
