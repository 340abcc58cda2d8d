package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/confchat/internal/model"
)

func at(sec int) time.Time {
	return time.Date(2025, 11, 20, 9, 0, sec, 0, time.UTC)
}

type fakeAPI struct {
	summaries []model.ConversationSummary
	chats     map[int64]*model.Conversation
	users     []model.User
	chatsErr  error
	chatCalls int
}

func (f *fakeAPI) Chats(context.Context) ([]model.ConversationSummary, error) {
	f.chatCalls++
	if f.chatsErr != nil {
		return nil, f.chatsErr
	}
	return append([]model.ConversationSummary(nil), f.summaries...), nil
}

func (f *fakeAPI) ChatWith(_ context.Context, userID int64) (*model.Conversation, error) {
	c, ok := f.chats[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Messages = append([]model.Message(nil), c.Messages...)
	cp.Participants = append([]model.User(nil), c.Participants...)
	return &cp, nil
}

func (f *fakeAPI) Users(context.Context) ([]model.User, error) {
	return append([]model.User(nil), f.users...), nil
}

type fakeSender struct {
	chatID int64
	err    error
	sent   []string
}

func (f *fakeSender) SendMessage(_ context.Context, _ int64, content string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, content)
	return f.chatID, nil
}

func TestStoreLoadConversationsSorts(t *testing.T) {
	api := &fakeAPI{summaries: []model.ConversationSummary{
		{ID: 1, LastMessage: &model.Message{ID: 10, CreatedAt: at(10)}},
		{ID: 2, LastMessage: &model.Message{ID: 11, CreatedAt: at(50)}},
	}}
	store := NewStore(api, &fakeSender{}, 1)

	if err := store.LoadConversations(context.Background()); err != nil {
		t.Fatalf("LoadConversations: %v", err)
	}
	got := store.Summaries()
	if len(got) != 2 || got[0].ID != 2 {
		t.Fatalf("summaries not sorted most-recent first: %+v", got)
	}
}

func TestStoreLoadConversationsFailureKeepsList(t *testing.T) {
	api := &fakeAPI{summaries: []model.ConversationSummary{{ID: 1}}}
	store := NewStore(api, &fakeSender{}, 1)
	store.LoadConversations(context.Background())

	api.chatsErr = errors.New("boom")
	if err := store.LoadConversations(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := store.Summaries(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("previous list not preserved: %+v", got)
	}
}

func TestStoreSendMessageOptimisticThenConfirmed(t *testing.T) {
	api := &fakeAPI{chats: map[int64]*model.Conversation{
		2: {ID: 7, Participants: []model.User{{ID: 1}, {ID: 2}}},
	}}
	sender := &fakeSender{chatID: 7}
	store := NewStore(api, sender, 1)
	store.LoadChat(context.Background(), 2)

	var changes int
	store.Subscribe(func() { changes++ })

	if err := store.SendMessage(context.Background(), 7, 2, "  hola  "); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "hola" {
		t.Fatalf("sent = %v, want trimmed content", sender.sent)
	}
	conv := store.Chat(7)
	if len(conv.Messages) != 1 || !conv.Messages[0].Provisional() {
		t.Fatalf("optimistic message missing: %+v", conv.Messages)
	}
	if changes == 0 {
		t.Fatal("subscribers not notified")
	}
}

func TestStoreSendMessageRollsBackOnFailure(t *testing.T) {
	api := &fakeAPI{chats: map[int64]*model.Conversation{
		2: {ID: 7, Participants: []model.User{{ID: 1}, {ID: 2}}},
	}}
	sender := &fakeSender{err: ErrNotConnected}
	store := NewStore(api, sender, 1)
	store.LoadChat(context.Background(), 2)

	err := store.SendMessage(context.Background(), 7, 2, "hola")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if conv := store.Chat(7); len(conv.Messages) != 0 {
		t.Fatalf("provisional not rolled back: %+v", conv.Messages)
	}
}

func TestStoreSendMessageBlankIsNoop(t *testing.T) {
	sender := &fakeSender{}
	store := NewStore(&fakeAPI{}, sender, 1)
	if err := store.SendMessage(context.Background(), 7, 2, "   "); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("blank content was sent: %v", sender.sent)
	}
}

func TestStoreProvisionalIDsUniqueAndNegative(t *testing.T) {
	store := NewStore(&fakeAPI{}, &fakeSender{}, 1)
	a, b := store.nextProvisionalID(), store.nextProvisionalID()
	if a >= 0 || b >= 0 || a == b {
		t.Fatalf("provisional ids %d, %d", a, b)
	}
}

func TestStoreOwnEchoReplacesProvisional(t *testing.T) {
	api := &fakeAPI{
		summaries: []model.ConversationSummary{{ID: 7}},
		chats: map[int64]*model.Conversation{
			2: {ID: 7, Participants: []model.User{{ID: 1}, {ID: 2}}},
		},
	}
	store := NewStore(api, &fakeSender{chatID: 7}, 1)
	store.LoadConversations(context.Background())
	store.LoadChat(context.Background(), 2)

	if err := store.SendMessage(context.Background(), 7, 2, "hola"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	echo := model.Message{ID: 99, ChatID: 7, Content: "hola", CreatedAt: at(40), Sender: model.User{ID: 1}}
	store.HandleIncoming(echo)
	store.HandleIncoming(echo) // redelivery

	conv := store.Chat(7)
	if len(conv.Messages) != 1 {
		t.Fatalf("echo not reconciled to one message: %+v", conv.Messages)
	}
	if conv.Messages[0].ID != 99 || conv.Messages[0].Provisional() {
		t.Fatalf("confirmed id not adopted: %+v", conv.Messages[0])
	}
	if got := store.Summaries(); got[0].LastMessage == nil || got[0].LastMessage.ID != 99 {
		t.Fatalf("summary not updated by own echo: %+v", got)
	}
}

func TestStoreOwnEchoFromOtherDeviceMerges(t *testing.T) {
	api := &fakeAPI{
		summaries: []model.ConversationSummary{{ID: 7}},
		chats: map[int64]*model.Conversation{
			2: {ID: 7, Participants: []model.User{{ID: 1}, {ID: 2}}},
		},
	}
	store := NewStore(api, &fakeSender{}, 1)
	store.LoadConversations(context.Background())
	store.LoadChat(context.Background(), 2)

	// No provisional copy exists: the message was sent from another device.
	store.HandleIncoming(model.Message{ID: 50, ChatID: 7, Content: "desde el otro", CreatedAt: at(10), Sender: model.User{ID: 1}})
	conv := store.Chat(7)
	if len(conv.Messages) != 1 || conv.Messages[0].ID != 50 {
		t.Fatalf("other-device echo not merged: %+v", conv.Messages)
	}
}

func TestStoreHandleIncomingUpdatesChatAndSummary(t *testing.T) {
	api := &fakeAPI{
		summaries: []model.ConversationSummary{
			{ID: 7, LastMessage: &model.Message{ID: 1, CreatedAt: at(10)}},
			{ID: 8, LastMessage: &model.Message{ID: 2, CreatedAt: at(20)}},
		},
		chats: map[int64]*model.Conversation{
			2: {ID: 7, Participants: []model.User{{ID: 1}, {ID: 2}}},
		},
	}
	store := NewStore(api, &fakeSender{}, 1)
	store.LoadConversations(context.Background())
	store.LoadChat(context.Background(), 2)

	in := model.Message{ID: 60, ChatID: 7, Content: "hey", CreatedAt: at(30), Sender: model.User{ID: 2}}
	store.HandleIncoming(in)
	store.HandleIncoming(in) // redelivery

	conv := store.Chat(7)
	if len(conv.Messages) != 1 || conv.Messages[0].ID != 60 {
		t.Fatalf("incoming not merged exactly once: %+v", conv.Messages)
	}
	got := store.Summaries()
	if got[0].ID != 7 || got[0].LastMessage.ID != 60 {
		t.Fatalf("summary not bumped to front: %+v", got)
	}
}

func TestStoreHandleIncomingUnknownChatReloads(t *testing.T) {
	api := &fakeAPI{}
	store := NewStore(api, &fakeSender{}, 1)
	store.LoadConversations(context.Background())
	before := api.chatCalls

	api.summaries = []model.ConversationSummary{
		{ID: 9, LastMessage: &model.Message{ID: 70, CreatedAt: at(40)}},
	}
	store.HandleIncoming(model.Message{ID: 70, ChatID: 9, CreatedAt: at(40), Sender: model.User{ID: 3}})

	if api.chatCalls != before+1 {
		t.Fatalf("expected a summary reload, calls %d -> %d", before, api.chatCalls)
	}
	if got := store.Summaries(); len(got) != 1 || got[0].ID != 9 {
		t.Fatalf("new conversation not adopted: %+v", got)
	}
}
