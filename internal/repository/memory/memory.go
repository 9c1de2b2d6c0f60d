// Package memory holds process-local implementations of the repository interfaces,
// used when the service runs with STORAGE=memory and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/google/uuid"
)

type SessionStore struct {
	mu      sync.Mutex
	byID    map[string]*models.RefreshSession
	byToken map[string]string
	now     func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byID:    make(map[string]*models.RefreshSession),
		byToken: make(map[string]string),
		now:     time.Now,
	}
}

func (s *SessionStore) Create(_ context.Context, session *models.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byToken[session.Token]; taken {
		return fmt.Errorf("refresh session token already stored: %w", models.ErrConflict)
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = s.now()

	stored := *session
	s.byID[stored.ID] = &stored
	s.byToken[stored.Token] = stored.ID
	return nil
}

func (s *SessionStore) FindByToken(_ context.Context, token string) (*models.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, fmt.Errorf("refresh session not found: %w", models.ErrNotFound)
	}
	found := *s.byID[id]
	return &found, nil
}

func (s *SessionStore) DeleteByToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byToken[token]; ok {
		s.remove(id)
	}
	return nil
}

func (s *SessionStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("refresh session %s: %w", id, models.ErrNotFound)
	}
	s.remove(id)
	return nil
}

func (s *SessionStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.byID {
		if session.UserID == userID {
			s.remove(id)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.byID {
		if session.Expired(now) {
			s.remove(id)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) ListForUser(_ context.Context, userID string) ([]*models.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.RefreshSession{}
	for _, session := range s.byID {
		if session.UserID == userID {
			cp := *session
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// remove must be called with mu held.
func (s *SessionStore) remove(id string) {
	if session, ok := s.byID[id]; ok {
		delete(s.byToken, session.Token)
		delete(s.byID, id)
	}
}

type UserStore struct {
	mu         sync.RWMutex
	byID       map[string]*models.User
	byEmail    map[string]string
	byUsername map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:       make(map[string]*models.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *UserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	username := strings.ToLower(user.Username)
	if _, taken := s.byEmail[email]; taken {
		return fmt.Errorf("user %s: %w", email, models.ErrConflict)
	}
	if _, taken := s.byUsername[username]; taken {
		return fmt.Errorf("user %s: %w", user.Username, models.ErrConflict)
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = email
	user.CreatedAt = time.Now()

	stored := *user
	stored.Roles = append(stored.Roles[:0:0], user.Roles...)
	s.byID[stored.ID] = &stored
	s.byEmail[email] = stored.ID
	s.byUsername[username] = stored.ID
	return nil
}

func (s *UserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", models.ErrNotFound)
	}
	return s.copyOf(id), nil
}

func (s *UserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.byID[id]; !ok {
		return nil, fmt.Errorf("user not found: %w", models.ErrNotFound)
	}
	return s.copyOf(id), nil
}

func (s *UserStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	user.IsActive = active
	return nil
}

func (s *UserStore) copyOf(id string) *models.User {
	u := *s.byID[id]
	u.Roles = append(u.Roles[:0:0], s.byID[id].Roles...)
	return &u
}

type AuditStore struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Insert(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = int64(len(s.entries) + 1)
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a snapshot of everything recorded so far.
func (s *AuditStore) Entries() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

var (
	_ models.RefreshSessionRepository = (*SessionStore)(nil)
	_ models.UserRepository           = (*UserStore)(nil)
	_ models.AuditRepository          = (*AuditStore)(nil)
)
