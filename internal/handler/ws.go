package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/middleware"
	"github.com/confchat/internal/ws"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
	sendBuf        int
}

// NewWSHandler creates the WebSocket upgrade handler. allowedOrigins is the
// CORS list (comma-separated or "*"); sendBuf sizes each client's outbound
// event buffer.
func NewWSHandler(hub *ws.Hub, allowedOrigins string, sendBuf int) *WSHandler {
	return &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins), sendBuf: sendBuf}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID, h.sendBuf)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
