package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/confchat/internal/storage/memory"
)

func TestSessionAuth(t *testing.T) {
	sessions := memory.New()
	if err := sessions.SetSession(context.Background(), "token-1", 42); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	var gotUserID int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
	})
	handler := SessionAuth(sessions)(next)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer token-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || gotUserID != 42 {
			t.Fatalf("status %d user %d", rec.Code, gotUserID)
		}
	})

	t.Run("query param", func(t *testing.T) {
		gotUserID = 0
		req := httptest.NewRequest(http.MethodGet, "/ws?token=token-1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || gotUserID != 42 {
			t.Fatalf("status %d user %d", rec.Code, gotUserID)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status %d, want 401", rec.Code)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status %d, want 401", rec.Code)
		}
	})
}
