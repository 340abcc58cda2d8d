package model

import "time"

// MaxMessageLen bounds message content length (runes).
const MaxMessageLen = 2000

// Message is immutable once confirmed by the server. A provisional (not yet
// confirmed) message carries a negative client-generated ID.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Sender    User      `json:"sender"`
}

// Provisional reports whether the message still carries a client-generated id.
func (m Message) Provisional() bool { return m.ID < 0 }

// MergeMessage inserts m into msgs keeping ascending created-at order.
// A message whose id is already present is dropped: the transport may
// redeliver and duplicate ids must never produce two entries.
func MergeMessage(msgs []Message, m Message) []Message {
	for _, have := range msgs {
		if have.ID == m.ID {
			return msgs
		}
	}
	i := len(msgs)
	for i > 0 && msgs[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}

// SortMessages re-sorts msgs ascending by created-at (insertion sort: history
// pages arrive nearly ordered). Equal timestamps keep their relative order.
func SortMessages(msgs []Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].CreatedAt.Before(msgs[j-1].CreatedAt); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}
