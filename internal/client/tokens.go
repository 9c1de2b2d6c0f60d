package client

import "sync"

// TokenStore keeps the access token in process memory only. It is never written
// to disk; losing the process means logging in again or renewing via the cookie.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

func (s *TokenStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *TokenStore) Clear() {
	s.Set("")
}
