// Package audit writes user action entries in the background. Recording never blocks
// the request path and a failed write never fails the operation that produced it.
package audit

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
)

const writeTimeout = 5 * time.Second

// Entry is what callers hand to Record. An empty UserID is stored as NULL.
type Entry struct {
	UserID    string
	Username  string
	Action    string
	Details   string
	IPAddress string
	UserAgent string
}

type Recorder interface {
	Record(e Entry)
	Close() error
}

type recorder struct {
	repo   models.AuditRepository
	logger logger.Logger

	entries chan Entry
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewRecorder starts the writer goroutine. bufferSize bounds the number of entries
// waiting to be written; anything beyond it is dropped with a warning.
func NewRecorder(repo models.AuditRepository, bufferSize int, l logger.Logger) Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	r := &recorder{
		repo:    repo,
		logger:  l,
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *recorder) Record(e Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.logger.Warn("Audit entry dropped, recorder closed", logger.String("action", e.Action))
		return
	}

	select {
	case r.entries <- e:
	default:
		r.logger.Warn("Audit buffer full, entry dropped",
			logger.String("action", e.Action),
			logger.String("user_id", e.UserID))
	}
}

// Close stops accepting entries and waits until everything buffered is written.
func (r *recorder) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.entries)
		r.mu.Unlock()
	})
	<-r.done
	return nil
}

func (r *recorder) run() {
	defer close(r.done)
	for e := range r.entries {
		r.write(e)
	}
}

func (r *recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	entry := &models.AuditEntry{
		UserID:     sql.NullString{String: e.UserID, Valid: e.UserID != ""},
		Username:   e.Username,
		ActionType: e.Action,
		Details:    e.Details,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
	}

	if err := r.repo.Insert(ctx, entry); err != nil {
		r.logger.Error("Failed to write audit entry",
			logger.String("action", e.Action),
			logger.String("user_id", e.UserID),
			logger.Error(err))
	}
}

// Discard is a Recorder that drops everything. Useful where auditing is not wired.
type Discard struct{}

func (Discard) Record(Entry)  {}
func (Discard) Close() error { return nil }
