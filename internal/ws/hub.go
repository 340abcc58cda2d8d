package ws

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
	"github.com/confchat/internal/wire"
)

// Backend is the persistence surface the hub needs.
type Backend interface {
	// EnsurePersonalChat finds the two-party chat between sender and
	// receiver, creating it on first contact.
	EnsurePersonalChat(ctx context.Context, senderID, receiverID int64) (chatID int64, created bool, err error)
	SaveMessage(ctx context.Context, chatID, senderID int64, content string, at time.Time) (model.Message, error)
}

// Notifier sends push notifications. A nil Notifier disables them.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string, data map[string]string)
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*Client]struct{}
	total    int
	maxConns int

	backend Backend
	push    Notifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(backend Backend, maxConns int, push Notifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		maxConns:   maxConns,
		backend:    backend,
		push:       push,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[int64]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%d", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleEvent dispatches one incoming client event.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev wire.ClientEvent) {
	switch ev.Type {
	case wire.EventMessage:
		h.handleSend(ctx, c, ev)
	case wire.EventJoinChat:
		if ev.ChatID > 0 {
			c.activeChat.Store(ev.ChatID)
		}
	case wire.EventLeaveChat:
		// Leaving a chat that was never joined is a no-op.
		c.activeChat.CompareAndSwap(ev.ChatID, 0)
	default:
		h.sendToClient(c, wire.ServerEvent{Type: wire.EventError, Payload: wire.ErrorPayload{Error: "unknown event type"}})
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, ev wire.ClientEvent) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()

	content := strings.TrimSpace(ev.Content)
	switch {
	case ev.ReceiverID <= 0 || content == "":
		h.ack(c, ev.AckID, wire.AckPayload{AckID: ev.AckID, Error: "receiver_id and content required"})
		return
	case ev.ReceiverID == c.userID:
		h.ack(c, ev.AckID, wire.AckPayload{AckID: ev.AckID, Error: "cannot message yourself"})
		return
	case utf8.RuneCountInString(content) > model.MaxMessageLen:
		h.ack(c, ev.AckID, wire.AckPayload{AckID: ev.AckID, Error: "message too long"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	chatID, created, err := h.backend.EnsurePersonalChat(ctx, c.userID, ev.ReceiverID)
	if err != nil {
		logger.Errorf("ws ensure chat sender=%d receiver=%d: %v", c.userID, ev.ReceiverID, err)
		h.ack(c, ev.AckID, wire.AckPayload{AckID: ev.AckID, Error: "internal error"})
		return
	}
	if created {
		logger.Infof("ws new chat=%d between %d and %d", chatID, c.userID, ev.ReceiverID)
	}

	msg, err := h.backend.SaveMessage(ctx, chatID, c.userID, content, time.Now().UTC())
	if err != nil {
		logger.Errorf("ws save message chat=%d user=%d: %v", chatID, c.userID, err)
		h.ack(c, ev.AckID, wire.AckPayload{AckID: ev.AckID, Error: "failed to save message"})
		return
	}

	h.ack(c, ev.AckID, wire.AckPayload{AckID: ev.AckID, Success: true, ChatID: chatID})

	// Every connection of both participants gets the message: the inbox
	// store on each device needs it regardless of joined rooms.
	out := wire.ServerEvent{Type: wire.EventReceiveMessage, Payload: msg}
	h.sendToUser(c.userID, out)
	h.sendToUser(ev.ReceiverID, out)

	h.sendToUser(c.userID, wire.ServerEvent{
		Type:    wire.EventMessageConfirmed,
		Payload: wire.ConfirmedPayload{ChatID: chatID},
	})

	if h.push != nil && !h.viewingChat(ev.ReceiverID, chatID) {
		body := content
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		data := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
		go h.push.Notify(context.Background(), ev.ReceiverID, msg.Sender.Name, body, data)
	}
}

func (h *Hub) ack(c *Client, ackID string, payload wire.AckPayload) {
	if ackID == "" {
		return
	}
	h.sendToClient(c, wire.ServerEvent{Type: wire.EventAck, Payload: payload})
}

// viewingChat reports whether any of the user's connections has chatID as
// its active chat.
func (h *Hub) viewingChat(userID, chatID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		if c.activeChat.Load() == chatID {
			return true
		}
	}
	return false
}

func (h *Hub) sendToUser(userID int64, ev wire.ServerEvent) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) sendToClient(c *Client, ev wire.ServerEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%d", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
