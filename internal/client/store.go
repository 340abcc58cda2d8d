package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
)

// ChatAPI is the REST surface the sync layer consumes.
type ChatAPI interface {
	Chats(ctx context.Context) ([]model.ConversationSummary, error)
	ChatWith(ctx context.Context, userID int64) (*model.Conversation, error)
	Users(ctx context.Context) ([]model.User, error)
}

// MessageSender submits one message over the live connection and reports the
// conversation it landed in once the server acknowledges.
type MessageSender interface {
	SendMessage(ctx context.Context, receiverID int64, content string) (int64, error)
}

// Store is the client-wide conversation cache: the summary list plus every
// full conversation loaded so far. Mutations go through its methods only;
// readers get copies. Wire HandleIncoming to the connection's global message
// handler so inbound traffic keeps the cache fresh.
type Store struct {
	rest   ChatAPI
	conn   MessageSender
	selfID int64

	mu        sync.Mutex
	summaries []model.ConversationSummary
	chats     map[int64]*model.Conversation
	subs      map[int]func()
	nextSub   int

	provisional atomic.Int64
}

func NewStore(rest ChatAPI, conn MessageSender, selfID int64) *Store {
	return &Store{
		rest:   rest,
		conn:   conn,
		selfID: selfID,
		chats:  make(map[int64]*model.Conversation),
		subs:   make(map[int]func()),
	}
}

// Subscribe registers a change callback and returns its remove func. The
// callback fires after every cache mutation, with no locks held.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Summaries returns the conversation list, most recently active first.
func (s *Store) Summaries() []model.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ConversationSummary(nil), s.summaries...)
}

// Chat returns a copy of the cached conversation, or nil when it has not
// been loaded.
func (s *Store) Chat(chatID int64) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	return cloneConversation(c)
}

// LoadConversations refreshes the summary list from the server. On failure
// the previous list is preserved.
func (s *Store) LoadConversations(ctx context.Context) error {
	summaries, err := s.rest.Chats(ctx)
	if err != nil {
		logger.Errorf("store: load conversations: %v", err)
		return err
	}
	model.SortSummaries(summaries)

	s.mu.Lock()
	s.summaries = summaries
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoadChat fetches the full conversation with userID and caches it. Returns
// nil both when no conversation exists yet and on transport failure; only
// the latter is logged.
func (s *Store) LoadChat(ctx context.Context, userID int64) *model.Conversation {
	conv, err := s.rest.ChatWith(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Errorf("store: load chat with user %d: %v", userID, err)
		}
		return nil
	}
	model.SortMessages(conv.Messages)

	s.mu.Lock()
	s.chats[conv.ID] = conv
	out := cloneConversation(conv)
	s.mu.Unlock()
	s.notify()
	return out
}

// Cache inserts a conversation fetched elsewhere, so per-screen loads and
// the store share one source of truth.
func (s *Store) Cache(conv *model.Conversation) {
	if conv == nil || conv.ID == 0 {
		return
	}
	s.mu.Lock()
	s.chats[conv.ID] = cloneConversation(conv)
	s.mu.Unlock()
	s.notify()
}

// SendMessage appends a provisional copy to the cached conversation, sends
// over the connection, and rolls the provisional back if the send fails.
// Blank content is dropped without error.
func (s *Store) SendMessage(ctx context.Context, chatID, receiverID int64, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	prov := model.Message{
		ID:        s.nextProvisionalID(),
		ChatID:    chatID,
		Content:   content,
		CreatedAt: time.Now(),
		Sender:    model.User{ID: s.selfID},
	}

	s.mu.Lock()
	if c, ok := s.chats[chatID]; ok {
		c.Messages = model.MergeMessage(c.Messages, prov)
	}
	s.mu.Unlock()
	s.notify()

	if _, err := s.conn.SendMessage(ctx, receiverID, content); err != nil {
		s.mu.Lock()
		if c, ok := s.chats[chatID]; ok {
			c.Messages = removeMessage(c.Messages, prov.ID)
		}
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// Provisional ids are negative so they can never collide with server ids.
func (s *Store) nextProvisionalID() int64 {
	return -s.provisional.Add(1)
}

// HandleIncoming reconciles one inbound message into the cache. An echo of
// the caller's own send replaces its provisional copy, so after the round
// trip the cache holds the confirmed id. A message for a conversation
// missing from the summary list triggers a full summary reload, because the
// wire event carries no participant data to synthesize an entry from.
func (s *Store) HandleIncoming(m model.Message) {
	reload := false
	s.mu.Lock()
	if c, ok := s.chats[m.ChatID]; ok {
		if m.Sender.ID == s.selfID {
			c.Messages = replaceProvisional(c.Messages, m)
		} else {
			c.Messages = model.MergeMessage(c.Messages, m)
		}
	}
	found := false
	for i := range s.summaries {
		if s.summaries[i].ID == m.ChatID {
			last := m
			s.summaries[i].LastMessage = &last
			found = true
			break
		}
	}
	if found {
		model.SortSummaries(s.summaries)
	} else {
		reload = true
	}
	s.mu.Unlock()
	s.notify()

	if reload {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.LoadConversations(ctx)
	}
}

// replaceProvisional swaps the optimistic copy of an echoed own message for
// its confirmed form, re-sorting since the server timestamp may differ.
// Without a matching provisional (a send from another device) it falls back
// to a plain merge.
func replaceProvisional(msgs []model.Message, m model.Message) []model.Message {
	for i := range msgs {
		if msgs[i].Provisional() && msgs[i].Content == m.Content {
			msgs[i] = m
			model.SortMessages(msgs)
			return msgs
		}
	}
	return model.MergeMessage(msgs, m)
}

func removeMessage(msgs []model.Message, id int64) []model.Message {
	for i := range msgs {
		if msgs[i].ID == id {
			return append(msgs[:i], msgs[i+1:]...)
		}
	}
	return msgs
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := &model.Conversation{ID: c.ID}
	out.Participants = append([]model.User(nil), c.Participants...)
	out.Messages = append([]model.Message(nil), c.Messages...)
	return out
}
