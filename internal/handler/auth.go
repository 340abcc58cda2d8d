package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
	"github.com/confchat/internal/storage"
	"github.com/google/uuid"
)

// UserDirectory is the user lookup surface the auth handler needs.
type UserDirectory interface {
	GetOrCreateByEmail(ctx context.Context, email, name string) (model.User, error)
}

type AuthHandler struct {
	users    UserDirectory
	sessions storage.SessionStore
}

func NewAuthHandler(users UserDirectory, sessions storage.SessionStore) *AuthHandler {
	return &AuthHandler{users: users, sessions: sessions}
}

type loginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type loginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Login issues a bearer token for the given email, creating the user record
// on first login. Attendees are identified by their registration email.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "valid email required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}

	user, err := h.users.GetOrCreateByEmail(r.Context(), email, name)
	if err != nil {
		logger.Errorf("auth login %s: %v", email, err)
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	token := uuid.New().String()
	if err := h.sessions.SetSession(r.Context(), token, user.ID); err != nil {
		logger.Errorf("auth store session user=%d: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}
