package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
)

// ErrSessionExpired is returned when the access token could not be renewed.
// The caller has to log in again.
var ErrSessionExpired = errors.New("session expired, login required")

// Renewer obtains a fresh access token, typically by presenting the refresh cookie.
type Renewer interface {
	Renew(ctx context.Context) (string, error)
}

type RenewerFunc func(ctx context.Context) (string, error)

func (f RenewerFunc) Renew(ctx context.Context) (string, error) { return f(ctx) }

type renewal struct {
	token string
	err   error
}

type retriedKey struct{}

// Agent attaches the bearer token to outgoing requests and renews it on a 401.
// Only one renewal runs at a time; requests that hit a 401 meanwhile queue up and
// are released in arrival order once it settles. Each request is replayed at most once.
type Agent struct {
	http    *http.Client
	tokens  *TokenStore
	renewer Renewer
	timeout time.Duration
	logger  logger.Logger

	mu       sync.Mutex
	renewing bool
	pending  []chan renewal
}

func NewAgent(hc *http.Client, tokens *TokenStore, renewer Renewer, l logger.Logger) *Agent {
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Agent{
		http:    hc,
		tokens:  tokens,
		renewer: renewer,
		timeout: timeout,
		logger:  l,
	}
}

func (a *Agent) Do(req *http.Request) (*http.Response, error) {
	sent := a.tokens.Get()

	resp, err := a.send(req, sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || retried(req) {
		return resp, nil
	}

	replay, err := rewind(req)
	if err != nil {
		// body cannot be sent twice, hand the 401 back as is
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	fresh, err := a.renew(req.Context(), sent)
	if err != nil {
		return nil, err
	}

	return a.send(replay, fresh)
}

func (a *Agent) send(req *http.Request, token string) (*http.Response, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}
	return a.http.Do(req)
}

// Renew replaces the current access token. It joins a renewal already in flight
// instead of starting a second one.
func (a *Agent) Renew(ctx context.Context) (string, error) {
	return a.renew(ctx, a.tokens.Get())
}

// renew returns a token newer than sent, starting a renewal only if none is running
// and nobody has already replaced sent.
func (a *Agent) renew(ctx context.Context, sent string) (string, error) {
	a.mu.Lock()
	if current := a.tokens.Get(); current != "" && current != sent {
		a.mu.Unlock()
		return current, nil
	}

	if a.renewing {
		ch := make(chan renewal, 1)
		a.pending = append(a.pending, ch)
		a.mu.Unlock()

		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	a.renewing = true
	a.mu.Unlock()

	// the renewal is shared, so one caller giving up must not cancel it for the rest
	renewCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	token, err := a.renewer.Renew(renewCtx)
	cancel()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		a.logger.Warn("Access token renewal failed", logger.Error(err))
	}

	a.mu.Lock()
	if err != nil {
		a.tokens.Clear()
	} else {
		a.tokens.Set(token)
	}
	waiters := a.pending
	a.pending = nil
	a.renewing = false
	a.mu.Unlock()

	for _, ch := range waiters {
		ch <- renewal{token: token, err: err}
	}

	return token, err
}

func retried(req *http.Request) bool {
	v, _ := req.Context().Value(retriedKey{}).(bool)
	return v
}

// rewind clones req for a single replay and marks the clone as retried.
func rewind(req *http.Request) (*http.Request, error) {
	ctx := context.WithValue(req.Context(), retriedKey{}, true)
	clone := req.Clone(ctx)

	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body is not replayable")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}
