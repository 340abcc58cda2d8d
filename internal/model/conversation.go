package model

import "sort"

// Conversation is a two-party thread. Messages are kept in ascending
// created-at order; the display layer reverses for newest-first rendering.
type Conversation struct {
	ID           int64     `json:"id"`
	Participants []User    `json:"participants"`
	Messages     []Message `json:"messages"`
}

// Counterpart returns the participant other than selfID.
func (c *Conversation) Counterpart(selfID int64) (User, bool) {
	for _, u := range c.Participants {
		if u.ID != selfID {
			return u, true
		}
	}
	return User{}, false
}

// ConversationSummary is one inbox row: the conversation and its most recent
// message, if any.
type ConversationSummary struct {
	ID           int64    `json:"id"`
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"last_message,omitempty"`
}

// Counterpart returns the participant other than selfID.
func (s *ConversationSummary) Counterpart(selfID int64) (User, bool) {
	for _, u := range s.Participants {
		if u.ID != selfID {
			return u, true
		}
	}
	return User{}, false
}

// SortSummaries orders summaries most-recent message first. Conversations
// without messages sort last, keeping their relative order (stable).
func SortSummaries(summaries []ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessage, summaries[j].LastMessage
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
