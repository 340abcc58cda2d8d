package middleware

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID stores the authenticated user id in the context.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID returns the user id set by SessionAuth, or 0.
func GetUserID(ctx context.Context) int64 {
	v, _ := ctx.Value(userIDKey).(int64)
	return v
}
