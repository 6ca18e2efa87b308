// Package auth supplies bearer credentials for the session store backend.
package auth

import (
	"errors"
	"sync"
)

// ErrNoToken is returned when a token source has no credential to offer.
var ErrNoToken = errors.New("no access token available")

// TokenSource yields the Authorization header value for backend requests.
// Implementations may cache and refresh; Invalidate tells the source its
// last token was rejected so the next call fetches a fresh one.
type TokenSource interface {
	Authorization() (string, error)
	Invalidate()
}

// StaticTokenSource wraps a fixed token. Invalidate clears it, so a revoked
// static token fails fast instead of being retried forever.
type StaticTokenSource struct {
	mu    sync.Mutex
	token string
}

// NewStaticTokenSource returns a source that always serves the given token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Authorization returns "Bearer <token>", or ErrNoToken once invalidated.
func (s *StaticTokenSource) Authorization() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return "Bearer " + s.token, nil
}

// Invalidate discards the token.
func (s *StaticTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
