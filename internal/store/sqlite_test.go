package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wrenchdesk/wrenchdesk/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	sess := &domain.ChatSession{
		ID:        "sess-1",
		UserID:    "anon_abc",
		Title:     "Overheating enquiry",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.CreateSession(ctx, sess))

	got, err := repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "Overheating enquiry", got.Title)
	require.True(t, got.Vehicle.IsEmpty())

	// Mutable fields update, including the vehicle context.
	sess.Vehicle.RegistrationNumber = "KA05MN1234"
	sess.ResponderID = "resp-1"
	sess.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.UpdateSession(ctx, sess))

	got, err = repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "KA05MN1234", got.Vehicle.RegistrationNumber)
	require.Equal(t, "resp-1", got.ResponderID)

	missing, err := repo.GetSession(ctx, "no-such")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for i, id := range []string{"old", "new"} {
		ts := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.CreateSession(ctx, &domain.ChatSession{
			ID: id, UserID: "anon_abc", Title: id, CreatedAt: ts, UpdatedAt: ts,
		}))
	}
	require.NoError(t, repo.CreateSession(ctx, &domain.ChatSession{
		ID: "other", UserID: "anon_xyz", Title: "other", CreatedAt: base, UpdatedAt: base,
	}))

	sessions, err := repo.ListSessions(ctx, "anon_abc")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "new", sessions[0].ID)
	require.Equal(t, "old", sessions[1].ID)
}

func TestMessagesKeepConversationOrder(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	// Identical timestamps: insertion order must still win.
	for i, content := range []string{"first", "second", "third"} {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		require.NoError(t, repo.AppendMessage(ctx, &domain.Message{
			ID: content, SessionID: "sess-1", Role: role, Content: content, CreatedAt: now,
		}))
	}

	msgs, err := repo.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "second", msgs[1].Content)
	require.Equal(t, "third", msgs[2].Content)
	require.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func TestJobCardUpsertAndParse(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	none, err := repo.GetJobCard(ctx, "sess-1")
	require.NoError(t, err)
	require.Nil(t, none)

	card := &domain.JobCard{SessionID: "sess-1", Status: domain.StatusCreated, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.UpsertJobCard(ctx, card))

	card.Status = domain.StatusDiagnosed
	card.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.UpsertJobCard(ctx, card))

	got, err := repo.GetJobCard(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDiagnosed, got.Status)
	require.Equal(t, now.Unix(), got.CreatedAt.Unix())
}

func TestUsageCounterRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	empty, err := repo.GetUsageCounter(ctx, "anon_abc")
	require.NoError(t, err)
	require.Zero(t, empty.Count)
	require.Empty(t, empty.Day)

	require.NoError(t, repo.SetUsageCounter(ctx, "anon_abc", domain.UsageCounter{Count: 3, Day: "2026-08-28"}))
	require.NoError(t, repo.SetUsageCounter(ctx, "anon_abc", domain.UsageCounter{Count: 4, Day: "2026-08-28"}))

	got, err := repo.GetUsageCounter(ctx, "anon_abc")
	require.NoError(t, err)
	require.Equal(t, 4, got.Count)
	require.Equal(t, "2026-08-28", got.Day)
}

func TestDeleteSessionRemovesMessagesAndJobCard(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, repo.CreateSession(ctx, &domain.ChatSession{
		ID: "sess-1", UserID: "anon_abc", Title: "t", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, repo.AppendMessage(ctx, &domain.Message{
		ID: "m1", SessionID: "sess-1", Role: domain.RoleUser, Content: "hi", CreatedAt: now,
	}))
	require.NoError(t, repo.UpsertJobCard(ctx, &domain.JobCard{
		SessionID: "sess-1", Status: domain.StatusCreated, CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, repo.DeleteSession(ctx, "sess-1"))

	sess, err := repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Nil(t, sess)
	msgs, err := repo.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
	card, err := repo.GetJobCard(ctx, "sess-1")
	require.NoError(t, err)
	require.Nil(t, card)
}

func TestUserUpsertAndLastSeen(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	require.NoError(t, repo.UpsertUser(ctx, &domain.User{
		UserID: "anon_abc", Username: "staff-12345678",
		LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	later := now.Add(time.Hour)
	require.NoError(t, repo.UpdateLastSeen(ctx, "anon_abc", later))

	got, err := repo.GetUser(ctx, "anon_abc")
	require.NoError(t, err)
	require.Equal(t, "staff-12345678", got.Username)
	require.Equal(t, later.Unix(), got.LastSeenAt.Unix())
}
