package middleware

import (
	"net/http"
	"strings"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/storage"
)

// SessionAuth resolves the bearer token against the session store and puts
// the user id into the request context. The token may also arrive as a
// "token" query parameter (browser WebSocket clients cannot set headers).
func SessionAuth(sessions storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := sessions.GetSession(r.Context(), token)
			if err != nil {
				logger.Errorf("auth session lookup: %v", err)
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			if userID == 0 {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
