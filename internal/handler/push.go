package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/middleware"
	"github.com/confchat/internal/push"
)

// SubscriptionStore persists push registrations.
type SubscriptionStore interface {
	Save(ctx context.Context, sub push.Subscription) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type PushHandler struct {
	subs  SubscriptionStore
	vapid string
}

// NewPushHandler serves subscription management. vapidPublicKey is handed to
// clients so they can subscribe in the browser.
func NewPushHandler(subs SubscriptionStore, vapidPublicKey string) *PushHandler {
	return &PushHandler{subs: subs, vapid: vapidPublicKey}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *PushHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapid})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	sub := push.Subscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}
	if err := h.subs.Save(r.Context(), sub); err != nil {
		logger.Errorf("push subscribe user=%d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.subs.DeleteByEndpoint(r.Context(), req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
