package client

import (
	"context"
	"testing"

	"github.com/confchat/internal/model"
)

type fakeRealtime struct {
	fakeSender
	msgFns     []func(model.Message)
	confirmFns []func(int64)
	reconnects []func()
	removed    int
}

func (f *fakeRealtime) AddMessageListener(fn func(model.Message)) func() {
	f.msgFns = append(f.msgFns, fn)
	return func() { f.removed++ }
}

func (f *fakeRealtime) AddConfirmedListener(fn func(chatID int64)) func() {
	f.confirmFns = append(f.confirmFns, fn)
	return func() { f.removed++ }
}

func (f *fakeRealtime) OnLifecycle(event Lifecycle, fn func()) func() {
	if event == LifecycleReconnect {
		f.reconnects = append(f.reconnects, fn)
	}
	return func() { f.removed++ }
}

func (f *fakeRealtime) deliver(m model.Message) {
	for _, fn := range f.msgFns {
		fn(m)
	}
}

func (f *fakeRealtime) confirm(chatID int64) {
	for _, fn := range f.confirmFns {
		fn(chatID)
	}
}

type fakeRooms struct {
	joined []int64
	left   []int64
}

func (f *fakeRooms) Join(chatID int64)  { f.joined = append(f.joined, chatID) }
func (f *fakeRooms) Leave(chatID int64) { f.left = append(f.left, chatID) }

func sessionFixture() (*fakeAPI, *fakeRealtime, *fakeRooms) {
	api := &fakeAPI{
		users: []model.User{{ID: 1, Name: "Ana"}, {ID: 2, Name: "Bruno"}},
		chats: map[int64]*model.Conversation{
			2: {
				ID:           7,
				Participants: []model.User{{ID: 1, Name: "Ana"}, {ID: 2, Name: "Bruno"}},
				Messages: []model.Message{
					{ID: 20, ChatID: 7, Content: "later", CreatedAt: at(20), Sender: model.User{ID: 2}},
					{ID: 10, ChatID: 7, Content: "first", CreatedAt: at(10), Sender: model.User{ID: 1}},
				},
			},
		},
	}
	return api, &fakeRealtime{}, &fakeRooms{}
}

func TestSessionRefreshLoadsAndJoins(t *testing.T) {
	api, rt, rooms := sessionFixture()
	sess := NewSession(api, rt, rooms, nil, 1, 2)
	defer sess.Close()

	if !sess.Loading() {
		t.Fatal("session not loading before Refresh")
	}
	sess.Refresh(context.Background())

	if sess.Loading() || sess.Err() != "" {
		t.Fatalf("loading=%v err=%q after Refresh", sess.Loading(), sess.Err())
	}
	if sess.ChatID() != 7 {
		t.Fatalf("chat id = %d, want 7", sess.ChatID())
	}
	if got := sess.Counterpart(); got.Name != "Bruno" {
		t.Fatalf("counterpart = %+v", got)
	}
	msgs := sess.Messages()
	if len(msgs) != 2 || msgs[0].ID != 10 || msgs[1].ID != 20 {
		t.Fatalf("messages not ascending: %+v", msgs)
	}
	if len(rooms.joined) != 1 || rooms.joined[0] != 7 {
		t.Fatalf("joined = %v, want [7]", rooms.joined)
	}
}

func TestSessionRefreshNoConversationIsEmptyState(t *testing.T) {
	api, rt, rooms := sessionFixture()
	sess := NewSession(api, rt, rooms, nil, 2, 1) // Bruno opening Ana, no chat yet
	defer sess.Close()
	sess.Refresh(context.Background())

	if sess.Err() != "" {
		t.Fatalf("no-conversation treated as error: %q", sess.Err())
	}
	if sess.ChatID() != 0 || len(sess.Messages()) != 0 {
		t.Fatalf("expected empty state, chat=%d msgs=%d", sess.ChatID(), len(sess.Messages()))
	}
	if got := sess.Counterpart(); got.Name != "Ana" {
		t.Fatalf("counterpart not resolved from directory: %+v", got)
	}
	if len(rooms.joined) != 0 {
		t.Fatalf("joined a room that does not exist: %v", rooms.joined)
	}
}

func TestSessionRefreshUnknownCounterpart(t *testing.T) {
	api, rt, rooms := sessionFixture()
	sess := NewSession(api, rt, rooms, nil, 1, 99)
	defer sess.Close()
	sess.Refresh(context.Background())

	if sess.Err() == "" {
		t.Fatal("expected a user-facing error for unknown counterpart")
	}
	if sess.Loading() {
		t.Fatal("still loading after failed Refresh")
	}
}

func TestSessionIncomingFilteredByRoom(t *testing.T) {
	api, rt, rooms := sessionFixture()
	sess := NewSession(api, rt, rooms, nil, 1, 2)
	defer sess.Close()
	sess.Refresh(context.Background())

	var changes int
	sess.OnChange(func() { changes++ })

	rt.deliver(model.Message{ID: 30, ChatID: 7, Content: "mine", CreatedAt: at(30), Sender: model.User{ID: 2}})
	rt.deliver(model.Message{ID: 31, ChatID: 8, Content: "other room", CreatedAt: at(31), Sender: model.User{ID: 3}})

	msgs := sess.Messages()
	if len(msgs) != 3 || msgs[2].ID != 30 {
		t.Fatalf("room filtering broken: %+v", msgs)
	}
	if changes != 1 {
		t.Fatalf("changes = %d, want 1", changes)
	}
}

func TestSessionSendExistingConversationGoesThroughStore(t *testing.T) {
	api, rt, rooms := sessionFixture()
	store := NewStore(api, &rt.fakeSender, 1)
	rt.chatID = 7

	sess := NewSession(api, rt, rooms, store, 1, 2)
	defer sess.Close()
	sess.Refresh(context.Background())

	if err := sess.SendMessage(context.Background(), "hola"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(rt.sent) != 1 || rt.sent[0] != "hola" {
		t.Fatalf("sent = %v", rt.sent)
	}
	// Refresh cached the conversation, so the optimistic copy lands in the
	// store and mirrors into the session.
	msgs := sess.Messages()
	if len(msgs) != 3 || !msgs[2].Provisional() {
		t.Fatalf("optimistic message not mirrored: %+v", msgs)
	}
}

func TestSessionOwnEchoNotDuplicated(t *testing.T) {
	api, rt, rooms := sessionFixture()
	store := NewStore(api, &rt.fakeSender, 1)
	rt.chatID = 7

	sess := NewSession(api, rt, rooms, store, 1, 2)
	defer sess.Close()
	sess.Refresh(context.Background())

	if err := sess.SendMessage(context.Background(), "hola"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// The server echoes the sender's own message back: first through the
	// global store handler, then through the session's room listener.
	echo := model.Message{ID: 99, ChatID: 7, Content: "hola", CreatedAt: at(50), Sender: model.User{ID: 1, Name: "Ana"}}
	store.HandleIncoming(echo)
	rt.deliver(echo)

	msgs := sess.Messages()
	var copies int
	for _, m := range msgs {
		if m.Content == "hola" {
			copies++
		}
	}
	if copies != 1 {
		t.Fatalf("own message shown %d times: %+v", copies, msgs)
	}
	last := msgs[len(msgs)-1]
	if last.ID != 99 || last.Provisional() {
		t.Fatalf("session kept the provisional copy: %+v", last)
	}

	conv := store.Chat(7)
	if got := conv.Messages[len(conv.Messages)-1]; got.ID != 99 {
		t.Fatalf("store lacks the confirmed id: %+v", conv.Messages)
	}
}

func TestSessionSendNewPairingReloadsOnConfirm(t *testing.T) {
	api, rt, rooms := sessionFixture()
	sess := NewSession(api, rt, rooms, nil, 2, 1) // no conversation yet
	defer sess.Close()
	sess.Refresh(context.Background())
	rt.chatID = 9

	if err := sess.SendMessage(context.Background(), "primera"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(rt.sent) != 1 {
		t.Fatalf("sent = %v", rt.sent)
	}

	// Server created chat 9; the confirmation triggers the adopting reload.
	api.chats[1] = &model.Conversation{
		ID:           9,
		Participants: []model.User{{ID: 1, Name: "Ana"}, {ID: 2, Name: "Bruno"}},
		Messages: []model.Message{
			{ID: 40, ChatID: 9, Content: "primera", CreatedAt: at(40), Sender: model.User{ID: 2}},
		},
	}
	rt.confirm(9)

	if sess.ChatID() != 9 {
		t.Fatalf("chat id = %d, want 9 after confirm reload", sess.ChatID())
	}
	if len(rooms.joined) == 0 || rooms.joined[len(rooms.joined)-1] != 9 {
		t.Fatalf("did not join the new room: %v", rooms.joined)
	}
}

func TestSessionRejoinsAfterReconnect(t *testing.T) {
	api, rt, rooms := sessionFixture()
	sess := NewSession(api, rt, rooms, nil, 1, 2)
	defer sess.Close()
	sess.Refresh(context.Background())

	for _, fn := range rt.reconnects {
		fn()
	}
	if len(rooms.joined) != 2 || rooms.joined[1] != 7 {
		t.Fatalf("joined = %v, want re-join of 7", rooms.joined)
	}
}

func TestSessionCloseLeavesAndStopsListening(t *testing.T) {
	api, rt, rooms := sessionFixture()
	sess := NewSession(api, rt, rooms, nil, 1, 2)
	sess.Refresh(context.Background())

	sess.Close()
	sess.Close() // idempotent

	if len(rooms.left) != 1 || rooms.left[0] != 7 {
		t.Fatalf("left = %v, want [7]", rooms.left)
	}
	if rt.removed != 3 {
		t.Fatalf("removed %d listeners, want 3", rt.removed)
	}

	before := len(sess.Messages())
	rt.deliver(model.Message{ID: 90, ChatID: 7, CreatedAt: at(90), Sender: model.User{ID: 2}})
	if len(sess.Messages()) != before {
		t.Fatal("closed session still merged a message")
	}
}
