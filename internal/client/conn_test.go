package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/confchat/internal/model"
	"github.com/confchat/internal/wire"
)

// echoServer acks every message event with chat 42 and pushes the stored
// message back as a receiveMessage event.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var ev wire.ClientEvent
			if err := ws.ReadJSON(&ev); err != nil {
				return
			}
			if ev.Type != wire.EventMessage {
				continue
			}
			ws.WriteJSON(wire.ServerEvent{
				Type:    wire.EventAck,
				Payload: wire.AckPayload{AckID: ev.AckID, Success: true, ChatID: 42},
			})
			ws.WriteJSON(wire.ServerEvent{
				Type: wire.EventReceiveMessage,
				Payload: model.Message{
					ID: 100, ChatID: 42, Content: ev.Content,
					CreatedAt: time.Now(), Sender: model.User{ID: 2},
				},
			})
		}
	}))
}

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConnRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn := NewConn(wsAddr(srv), StaticToken("token-1"))
	connected := make(chan struct{})
	conn.OnLifecycle(LifecycleConnect, func() { close(connected) })
	received := make(chan model.Message, 1)
	conn.OnMessageReceived(func(m model.Message) { received <- m })

	conn.Connect(context.Background())
	defer conn.Disconnect()
	waitFor(t, connected, "connect")

	if !conn.IsConnected() {
		t.Fatal("IsConnected false after connect event")
	}

	chatID, err := conn.SendMessage(context.Background(), 2, "hola")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if chatID != 42 {
		t.Fatalf("chat id = %d, want 42", chatID)
	}

	select {
	case m := <-received:
		if m.ChatID != 42 || m.Content != "hola" {
			t.Fatalf("received %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pushed message")
	}

	conn.Disconnect()
	if conn.IsConnected() {
		t.Fatal("IsConnected true after Disconnect")
	}
}

func TestConnNoCredentialIsNoop(t *testing.T) {
	conn := NewConn("ws://localhost:0/ws", StaticToken(""))
	conn.Connect(context.Background())

	if conn.IsConnected() {
		t.Fatal("connected without a credential")
	}
	if _, err := conn.SendMessage(context.Background(), 2, "hola"); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	conn.Disconnect()
}

func TestConnSendWhileDownFailsGenerically(t *testing.T) {
	conn := NewConn("ws://localhost:0/ws", StaticToken("token-1"))
	if _, err := conn.SendMessage(context.Background(), 2, "hola"); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnListenerRemoval(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn := NewConn(wsAddr(srv), StaticToken("token-1"))
	connected := make(chan struct{})
	conn.OnLifecycle(LifecycleConnect, func() { close(connected) })

	var extra int
	remove := conn.AddMessageListener(func(model.Message) { extra++ })
	remove()

	received := make(chan model.Message, 1)
	conn.OnMessageReceived(func(m model.Message) { received <- m })

	conn.Connect(context.Background())
	defer conn.Disconnect()
	waitFor(t, connected, "connect")

	if _, err := conn.SendMessage(context.Background(), 2, "hola"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pushed message")
	}
	if extra != 0 {
		t.Fatalf("removed listener fired %d times", extra)
	}
}

func TestConnReconnectsAfterDrop(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn := NewConn(wsAddr(srv), StaticToken("token-1"))
	connected := make(chan struct{})
	conn.OnLifecycle(LifecycleConnect, func() { close(connected) })
	dropped := make(chan struct{})
	conn.OnLifecycle(LifecycleDisconnect, func() {
		select {
		case <-dropped:
		default:
			close(dropped)
		}
	})
	reconnected := make(chan struct{})
	conn.OnLifecycle(LifecycleReconnect, func() {
		select {
		case <-reconnected:
		default:
			close(reconnected)
		}
	})

	conn.Connect(context.Background())
	defer conn.Disconnect()
	waitFor(t, connected, "connect")

	srv.CloseClientConnections()
	waitFor(t, dropped, "disconnect")
	waitFor(t, reconnected, "reconnect")

	if _, err := conn.SendMessage(context.Background(), 2, "hola"); err != nil {
		t.Fatalf("SendMessage after reconnect: %v", err)
	}
}
