package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/middleware"
	"github.com/confchat/internal/model"
	"github.com/confchat/internal/repository"
	"github.com/go-chi/chi/v5"
)

// ChatDirectory is the chat lookup surface the handler needs.
type ChatDirectory interface {
	ListSummaries(ctx context.Context, userID int64) ([]model.ConversationSummary, error)
	FindPersonal(ctx context.Context, a, b int64) (int64, error)
	Participants(ctx context.Context, chatID int64) ([]model.User, error)
}

// MessageLister loads a chat's message history.
type MessageLister interface {
	ListByChat(ctx context.Context, chatID int64) ([]model.Message, error)
}

type ChatHandler struct {
	chats ChatDirectory
	msgs  MessageLister
}

func NewChatHandler(chats ChatDirectory, msgs MessageLister) *ChatHandler {
	return &ChatHandler{chats: chats, msgs: msgs}
}

// GetChats returns the caller's conversation summaries, most recent first.
func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	summaries, err := h.chats.ListSummaries(r.Context(), userID)
	if err != nil {
		logger.Errorf("chat list user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load chats")
		return
	}
	model.SortSummaries(summaries)
	writeJSON(w, http.StatusOK, summaries)
}

// GetChatWith returns the full conversation with the given counterpart.
// 404 means no conversation exists yet: callers treat that as the normal
// state before the first message, not as a failure.
func (h *ChatHandler) GetChatWith(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID, ok := pathInt64(chi.URLParam(r, "userId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if otherID == userID {
		writeError(w, http.StatusBadRequest, "cannot chat with yourself")
		return
	}

	chatID, err := h.chats.FindPersonal(r.Context(), userID, otherID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		logger.Errorf("chat find user=%d other=%d: %v", userID, otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to load chat")
		return
	}

	participants, err := h.chats.Participants(r.Context(), chatID)
	if err != nil {
		logger.Errorf("chat participants chat=%d: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	messages, err := h.msgs.ListByChat(r.Context(), chatID)
	if err != nil {
		logger.Errorf("chat messages chat=%d: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to load chat")
		return
	}

	writeJSON(w, http.StatusOK, model.Conversation{
		ID:           chatID,
		Participants: participants,
		Messages:     messages,
	})
}
