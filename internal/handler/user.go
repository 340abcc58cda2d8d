package handler

import (
	"context"
	"net/http"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
)

// UserLister lists attendees eligible for chat.
type UserLister interface {
	List(ctx context.Context) ([]model.User, error)
}

type UserHandler struct {
	users UserLister
}

func NewUserHandler(users UserLister) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		logger.Errorf("user list: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}
