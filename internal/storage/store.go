package storage

import "context"

// SessionStore maps bearer tokens to user ids.
// Implementations: redis.Client, memory.Client (dev mode without Redis).
type SessionStore interface {
	SetSession(ctx context.Context, token string, userID int64) error
	// GetSession returns 0 for an unknown or expired token.
	GetSession(ctx context.Context, token string) (int64, error)
	DeleteSession(ctx context.Context, token string) error
	Close() error
}
