package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/confchat/internal/model"
)

func restServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email string `json:"email"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(map[string]any{
			"token": "token-1",
			"user":  model.User{ID: 1, Name: "Ana", Email: in.Email},
		})
	})
	mux.HandleFunc("GET /api/chats/2", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		json.NewEncoder(w).Encode(model.Conversation{
			ID:           7,
			Participants: []model.User{{ID: 1}, {ID: 2}},
		})
	})
	mux.HandleFunc("GET /api/chats/3", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "conversation not found"})
	})
	return httptest.NewServer(mux)
}

func TestAPILoginAndChatWith(t *testing.T) {
	srv := restServer(t)
	defer srv.Close()

	tokens := &TokenHolder{}
	api := NewAPI(srv.URL, tokens)

	token, user, err := api.Login(context.Background(), "ana@example.com", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "token-1" || user.ID != 1 {
		t.Fatalf("login returned token=%q user=%+v", token, user)
	}
	tokens.Set(token)

	conv, err := api.ChatWith(context.Background(), 2)
	if err != nil {
		t.Fatalf("ChatWith: %v", err)
	}
	if conv.ID != 7 {
		t.Fatalf("chat id = %d, want 7", conv.ID)
	}
}

func TestAPIChatWithNotFound(t *testing.T) {
	srv := restServer(t)
	defer srv.Close()

	api := NewAPI(srv.URL, StaticToken("token-1"))
	if _, err := api.ChatWith(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAPIErrorBodySurfaces(t *testing.T) {
	srv := restServer(t)
	defer srv.Close()

	api := NewAPI(srv.URL, StaticToken("wrong"))
	_, err := api.ChatWith(context.Background(), 2)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("error does not carry server message: %q", err)
	}
}
