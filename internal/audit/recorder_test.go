package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/repository/memory"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLogger struct {
	mu    sync.Mutex
	warns int
	errs  int
}

func (l *countingLogger) Debug(string, ...logger.Field) {}
func (l *countingLogger) Info(string, ...logger.Field)  {}
func (l *countingLogger) Warn(string, ...logger.Field) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}
func (l *countingLogger) Error(string, ...logger.Field) {
	l.mu.Lock()
	l.errs++
	l.mu.Unlock()
}
func (l *countingLogger) Fatal(string, ...logger.Field)     {}
func (l *countingLogger) Panic(string, ...logger.Field)     {}
func (l *countingLogger) With(...logger.Field) logger.Logger { return l }
func (l *countingLogger) Sync() error                        { return nil }
func (l *countingLogger) SetLevel(logger.Level)              {}

// blockingRepo holds every insert until release is closed.
type blockingRepo struct {
	release chan struct{}
	store   *memory.AuditStore
}

func (b *blockingRepo) Insert(ctx context.Context, e *models.AuditEntry) error {
	<-b.release
	return b.store.Insert(ctx, e)
}

type failingRepo struct{}

func (failingRepo) Insert(context.Context, *models.AuditEntry) error {
	return errors.New("database is down")
}

func TestRecorder_WritesEntries(t *testing.T) {
	store := memory.NewAuditStore()
	r := NewRecorder(store, 8, &countingLogger{})

	r.Record(Entry{UserID: "user-1", Username: "alice", Action: models.ActionLogin, IPAddress: "10.0.0.1"})
	r.Record(Entry{Username: "ghost", Action: models.ActionLogin, Details: "failed attempt: unknown email"})

	require.NoError(t, r.Close())

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "user-1", entries[0].UserID.String)
	assert.True(t, entries[0].UserID.Valid)
	assert.Equal(t, "10.0.0.1", entries[0].IPAddress)
	assert.False(t, entries[1].UserID.Valid)
	assert.Equal(t, "failed attempt: unknown email", entries[1].Details)
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{}), store: memory.NewAuditStore()}
	l := &countingLogger{}
	r := NewRecorder(repo, 1, l)

	// one entry is picked up by the worker and blocks, one fills the buffer,
	// the rest have nowhere to go
	for i := 0; i < 10; i++ {
		r.Record(Entry{Action: models.ActionLogin})
	}

	close(repo.release)
	require.NoError(t, r.Close())

	written := len(repo.store.Entries())
	assert.GreaterOrEqual(t, written, 1)
	assert.LessOrEqual(t, written, 2)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, 10-written, l.warns)
}

func TestRecorder_WriteFailureIsLogged(t *testing.T) {
	l := &countingLogger{}
	r := NewRecorder(failingRepo{}, 4, l)

	r.Record(Entry{Action: models.ActionLogout})
	require.NoError(t, r.Close())

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Equal(t, 1, l.errs)
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	store := memory.NewAuditStore()
	l := &countingLogger{}
	r := NewRecorder(store, 4, l)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.NotPanics(t, func() { r.Record(Entry{Action: models.ActionLogin}) })
	assert.Empty(t, store.Entries())
}
