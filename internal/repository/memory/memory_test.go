package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(userID, token string, expiresAt time.Time) *models.RefreshSession {
	return &models.RefreshSession{
		UserID:          userID,
		Token:           token,
		FingerprintHash: "digest",
		ExpiresAt:       expiresAt,
	}
}

func TestSessionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	exp := time.Now().Add(time.Hour)

	s := newSession("u1", "t1", exp)
	require.NoError(t, store.Create(ctx, s))
	assert.NotEmpty(t, s.ID)
	assert.NotZero(t, s.CreatedAt)

	err := store.Create(ctx, newSession("u1", "t1", exp))
	assert.ErrorIs(t, err, models.ErrConflict)

	found, err := store.FindByToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, found.ID)

	// returned records are copies
	found.UserID = "mallory"
	again, err := store.FindByToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", again.UserID)

	require.NoError(t, store.DeleteByToken(ctx, "t1"))
	require.NoError(t, store.DeleteByToken(ctx, "t1"))

	_, err = store.FindByToken(ctx, "t1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionStore_DeleteByID(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	s := newSession("u1", "t1", time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, s))

	require.NoError(t, store.DeleteByID(ctx, s.ID))
	assert.ErrorIs(t, store.DeleteByID(ctx, s.ID), models.ErrNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestSessionStore_DeleteByIDIsSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	s := newSession("u1", "t1", time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, s))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.DeleteByID(ctx, s.ID) == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestSessionStore_Bulk(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	now := time.Now()

	require.NoError(t, store.Create(ctx, newSession("u1", "a", now.Add(time.Hour))))
	require.NoError(t, store.Create(ctx, newSession("u1", "b", now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, newSession("u2", "c", now.Add(time.Hour))))
	require.NoError(t, store.Create(ctx, newSession("u2", "d", now.Add(-time.Hour))))

	list, err := store.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	expired, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), expired)

	revoked, err := store.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)

	list, err = store.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.FindByToken(ctx, "c")
	assert.NoError(t, err)
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()

	u := &models.User{Username: "alice", Email: "Alice@Example.com", PasswordHash: "h", Roles: pq.StringArray{"subscriber"}, IsActive: true}
	require.NoError(t, store.Create(ctx, u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice@example.com", u.Email)

	err := store.Create(ctx, &models.User{Username: "alice2", Email: "alice@example.com"})
	assert.ErrorIs(t, err, models.ErrConflict)
	err = store.Create(ctx, &models.User{Username: "ALICE", Email: "other@example.com"})
	assert.ErrorIs(t, err, models.ErrConflict)

	found, err := store.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	found.Roles[0] = "admin"
	byID, err := store.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"subscriber"}, byID.RoleNames())

	require.NoError(t, store.SetActive(ctx, u.ID, false))
	byID, err = store.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, byID.IsActive)

	assert.ErrorIs(t, store.SetActive(ctx, "missing", true), models.ErrNotFound)
	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.FindByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAuditStore(t *testing.T) {
	store := NewAuditStore()
	e := &models.AuditEntry{ActionType: models.ActionLogin}
	require.NoError(t, store.Insert(context.Background(), e))
	assert.Equal(t, int64(1), e.ID)

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionLogin, entries[0].ActionType)
}
