package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
)

// Realtime is the connection surface a session consumes.
type Realtime interface {
	MessageSender
	AddMessageListener(fn func(model.Message)) func()
	AddConfirmedListener(fn func(chatID int64)) func()
	OnLifecycle(event Lifecycle, fn func()) func()
}

// RoomTracker issues join and leave signals for the conversation being
// viewed.
type RoomTracker interface {
	Join(chatID int64)
	Leave(chatID int64)
}

// Session is the live state of one open conversation screen: the message
// list with the counterpart user, loading and sending flags, and the
// listeners that keep it current. Create one per opened conversation, call
// Refresh to load, and Close on every exit path so a dead screen stops
// receiving events.
type Session struct {
	rest          ChatAPI
	conn          Realtime
	rooms         RoomTracker
	store         *Store
	selfID        int64
	counterpartID int64

	mu          sync.Mutex
	chatID      int64
	messages    []model.Message
	counterpart model.User
	loading     bool
	sending     bool
	errMsg      string
	closed      bool
	onChange    func()

	removeMsg       func()
	removeConfirmed func()
	removeReconnect func()
	removeStoreSub  func()
}

// NewSession wires the listeners immediately; the caller follows up with
// Refresh for the initial load. store may be nil for standalone use.
func NewSession(rest ChatAPI, conn Realtime, rooms RoomTracker, store *Store, selfID, counterpartID int64) *Session {
	s := &Session{
		rest:          rest,
		conn:          conn,
		rooms:         rooms,
		store:         store,
		selfID:        selfID,
		counterpartID: counterpartID,
		loading:       true,
	}
	s.removeMsg = conn.AddMessageListener(s.handleIncoming)
	s.removeConfirmed = conn.AddConfirmedListener(s.handleConfirmed)
	s.removeReconnect = conn.OnLifecycle(LifecycleReconnect, s.handleReconnect)
	if store != nil {
		s.removeStoreSub = store.Subscribe(s.handleStoreChange)
	}
	return s
}

// OnChange registers the single render callback. It fires after every state
// change, with no locks held.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Messages returns the current list in ascending creation order.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...)
}

func (s *Session) Counterpart() model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterpart
}

// ChatID is zero until a conversation exists on the server.
func (s *Session) ChatID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Err returns the user-facing error message, empty when healthy.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Refresh loads the conversation from the server. A missing conversation is
// the normal empty state before the first message: the counterpart is
// resolved from the user directory instead and the message list stays empty.
func (s *Session) Refresh(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()
	s.notify()

	conv, err := s.rest.ChatWith(ctx, s.counterpartID)
	switch {
	case errors.Is(err, ErrNotFound):
		s.refreshEmpty(ctx)
	case err != nil:
		logger.Errorf("session: load chat with user %d: %v", s.counterpartID, err)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.errMsg = "could not load conversation"
		s.loading = false
		s.mu.Unlock()
	default:
		model.SortMessages(conv.Messages)
		counterpart, _ := conv.Counterpart(s.selfID)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		prev := s.chatID
		s.chatID = conv.ID
		s.messages = append([]model.Message(nil), conv.Messages...)
		s.counterpart = counterpart
		s.loading = false
		s.mu.Unlock()

		if s.store != nil {
			s.store.Cache(conv)
		}
		if prev != 0 && prev != conv.ID {
			s.rooms.Leave(prev)
		}
		s.rooms.Join(conv.ID)
	}
	s.notify()
}

func (s *Session) refreshEmpty(ctx context.Context) {
	users, err := s.rest.Users(ctx)
	var counterpart model.User
	found := false
	if err == nil {
		for _, u := range users {
			if u.ID == s.counterpartID {
				counterpart = u
				found = true
				break
			}
		}
	} else {
		logger.Errorf("session: list users: %v", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if found {
		s.chatID = 0
		s.messages = nil
		s.counterpart = counterpart
	} else {
		s.errMsg = "could not load contact"
	}
	s.loading = false
	s.mu.Unlock()
}

// SendMessage sends content to the counterpart. An existing conversation
// goes through the store's optimistic path; the first message of a new
// pairing goes directly over the connection, and the confirmation event
// triggers the reload that picks up the new conversation id. Blank content
// and overlapping sends are dropped without error.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed || s.sending {
		s.mu.Unlock()
		return nil
	}
	s.sending = true
	chatID := s.chatID
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
		s.notify()
	}()

	if chatID != 0 && s.store != nil {
		return s.store.SendMessage(ctx, chatID, s.counterpartID, content)
	}
	_, err := s.conn.SendMessage(ctx, s.counterpartID, content)
	return err
}

// Close leaves the joined room and removes every listener. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	chatID := s.chatID
	s.mu.Unlock()

	s.removeMsg()
	s.removeConfirmed()
	s.removeReconnect()
	if s.removeStoreSub != nil {
		s.removeStoreSub()
	}
	if chatID != 0 {
		s.rooms.Leave(chatID)
	}
}

func (s *Session) handleIncoming(m model.Message) {
	s.mu.Lock()
	if s.closed || s.chatID == 0 || m.ChatID != s.chatID {
		s.mu.Unlock()
		return
	}
	if s.store != nil && m.Sender.ID == s.selfID {
		// The store reconciles own echoes against their provisional copies;
		// merging here too would show the message twice.
		s.mu.Unlock()
		return
	}
	s.messages = model.MergeMessage(s.messages, m)
	s.mu.Unlock()
	s.notify()
}

// handleConfirmed reacts to a delivery confirmation while no conversation id
// is known yet: the first message of a new pairing just created one on the
// server, so reload to adopt it.
func (s *Session) handleConfirmed(int64) {
	s.mu.Lock()
	reload := !s.closed && s.chatID == 0 && !s.loading
	s.mu.Unlock()
	if !reload {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Refresh(ctx)
}

// Room membership does not survive a reconnect, so re-join the active
// conversation when the transport comes back.
func (s *Session) handleReconnect() {
	s.mu.Lock()
	chatID := s.chatID
	closed := s.closed
	s.mu.Unlock()
	if !closed && chatID != 0 {
		s.rooms.Join(chatID)
	}
}

// handleStoreChange mirrors the store's copy of the conversation, which
// includes optimistic appends and rollbacks, into the display list.
func (s *Session) handleStoreChange() {
	s.mu.Lock()
	chatID := s.chatID
	closed := s.closed
	s.mu.Unlock()
	if closed || chatID == 0 || s.store == nil {
		return
	}
	conv := s.store.Chat(chatID)
	if conv == nil {
		return
	}

	s.mu.Lock()
	if s.closed || s.chatID != chatID {
		s.mu.Unlock()
		return
	}
	s.messages = conv.Messages
	s.mu.Unlock()
	s.notify()
}
