package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/confchat/internal/client"
	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
)

// Line-oriented chat client. Logs in with an email, keeps the conversation
// list in sync over the websocket, and lets the user open one conversation
// at a time:
//
//	/users          list registered users
//	/chats          list conversations, most recent first
//	/open <userID>  open the conversation with that user
//	/close          close the open conversation
//	/quit           exit
//
// Any other input is sent as a message to the open conversation.
func main() {
	server := flag.String("server", "http://localhost:8080", "backend base URL")
	email := flag.String("email", "", "login email (required)")
	name := flag.String("name", "", "display name for first login")
	flag.Parse()

	logger.SetPrefix("cli")
	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: cli -email you@example.com [-server URL] [-name Name]")
		os.Exit(1)
	}

	ctx := context.Background()
	tokens := &client.TokenHolder{}
	api := client.NewAPI(*server, tokens)

	token, self, err := api.Login(ctx, *email, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}
	tokens.Set(token)
	fmt.Printf("logged in as %s (#%d)\n", self.Name, self.ID)

	conn := client.NewConn(wsURL(*server), tokens)
	conn.OnLifecycle(client.LifecycleConnect, func() { fmt.Println("* connected") })
	conn.OnLifecycle(client.LifecycleDisconnect, func() { fmt.Println("* connection lost") })
	conn.OnLifecycle(client.LifecycleReconnect, func() { fmt.Println("* reconnected") })
	conn.Connect(ctx)
	defer conn.Disconnect()

	store := client.NewStore(api, conn, self.ID)
	conn.OnMessageReceived(store.HandleIncoming)
	if err := store.LoadConversations(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "could not load conversations: %v\n", err)
	}

	app := &app{api: api, conn: conn, rooms: client.NewRooms(conn), store: store, self: self}
	defer app.closeSession()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/users":
			app.listUsers(ctx)
		case line == "/chats":
			app.listChats(ctx)
		case strings.HasPrefix(line, "/open "):
			app.open(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
		case line == "/close":
			app.closeSession()
		case strings.HasPrefix(line, "/"):
			fmt.Printf("unknown command %q\n", line)
		default:
			app.send(ctx, line)
		}
		fmt.Print("> ")
	}
}

type app struct {
	api   *client.API
	conn  *client.Conn
	rooms *client.Rooms
	store *client.Store
	self  model.User

	session *client.Session
	printed int
}

func (a *app) listUsers(ctx context.Context) {
	users, err := a.api.Users(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for _, u := range users {
		marker := ""
		if u.ID == a.self.ID {
			marker = " (you)"
		}
		fmt.Printf("  #%d %s <%s>%s\n", u.ID, u.Name, u.Email, marker)
	}
}

func (a *app) listChats(ctx context.Context) {
	a.store.LoadConversations(ctx)
	summaries := a.store.Summaries()
	if len(summaries) == 0 {
		fmt.Println("  no conversations yet, /open <userID> to start one")
		return
	}
	for _, sum := range summaries {
		other, _ := sum.Counterpart(a.self.ID)
		last := "(empty)"
		if sum.LastMessage != nil {
			last = sum.LastMessage.Content
			if len(last) > 40 {
				last = last[:40] + "..."
			}
		}
		fmt.Printf("  with #%d %s: %s\n", other.ID, other.Name, last)
	}
}

func (a *app) open(ctx context.Context, arg string) {
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || userID <= 0 {
		fmt.Println("usage: /open <userID>")
		return
	}
	if userID == a.self.ID {
		fmt.Println("cannot open a conversation with yourself")
		return
	}
	a.closeSession()

	a.session = client.NewSession(a.api, a.conn, a.rooms, a.store, a.self.ID, userID)
	a.session.OnChange(a.render)
	a.session.Refresh(ctx)

	if msg := a.session.Err(); msg != "" {
		fmt.Printf("error: %s\n", msg)
		a.closeSession()
		return
	}
	other := a.session.Counterpart()
	fmt.Printf("--- conversation with %s ---\n", other.Name)
	a.printed = 0
	a.render()
}

func (a *app) closeSession() {
	if a.session == nil {
		return
	}
	a.session.Close()
	a.session = nil
	a.printed = 0
}

func (a *app) send(ctx context.Context, content string) {
	if a.session == nil {
		fmt.Println("no open conversation, /open <userID> first")
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.session.SendMessage(sendCtx, content); err != nil {
		fmt.Printf("send failed: %v\n", err)
	}
}

// render prints messages that appeared since the last call.
func (a *app) render() {
	sess := a.session
	if sess == nil {
		return
	}
	msgs := sess.Messages()
	if a.printed > len(msgs) {
		// A rolled-back provisional shrank the list.
		a.printed = len(msgs)
	}
	for ; a.printed < len(msgs); a.printed++ {
		m := msgs[a.printed]
		who := m.Sender.Name
		if m.Sender.ID == a.self.ID {
			who = "you"
			if m.Provisional() {
				who = "you (sending)"
			}
		}
		fmt.Printf("  [%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, m.Content)
	}
}

func wsURL(base string) string {
	u := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
