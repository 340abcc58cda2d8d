package client

import (
	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/wire"
)

// Rooms translates "the user is viewing this conversation" into join and
// leave signals for the server. It keeps no state of its own; membership
// belongs to the server side of the connection, which means it must be
// re-established by the owning screen after a reconnect.
type Rooms struct {
	conn *Conn
}

func NewRooms(conn *Conn) *Rooms {
	return &Rooms{conn: conn}
}

// Join marks chatID as the conversation the user is actively viewing.
// A no-op while disconnected.
func (r *Rooms) Join(chatID int64) {
	ev := wire.ClientEvent{Type: wire.EventJoinChat, ChatID: chatID}
	if err := r.conn.emit(ev); err != nil {
		logger.Debugf("rooms: join %d skipped: %v", chatID, err)
	}
}

// Leave clears the active-conversation mark for chatID. A no-op while
// disconnected.
func (r *Rooms) Leave(chatID int64) {
	ev := wire.ClientEvent{Type: wire.EventLeaveChat, ChatID: chatID}
	if err := r.conn.emit(ev); err != nil {
		logger.Debugf("rooms: leave %d skipped: %v", chatID, err)
	}
}
