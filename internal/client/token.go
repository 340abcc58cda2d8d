package client

import (
	"context"
	"sync"
)

// TokenSource supplies the bearer credential used for REST calls and the
// socket handshake. Implementations typically wrap the platform's secure
// storage. An empty token means not-yet-authenticated, which is a valid
// steady state rather than an error.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TokenHolder is a mutable TokenSource: set after login, cleared on logout.
type TokenHolder struct {
	mu    sync.RWMutex
	token string
}

func (h *TokenHolder) Set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *TokenHolder) Token(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token, nil
}
