// Package push delivers Web Push notifications to subscribed clients. It is
// used by the ws hub to reach recipients who are offline or not currently
// viewing the chat a message arrived in.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/confchat/internal/logger"
)

// Subscription is one browser push registration.
type Subscription struct {
	UserID   int64
	Endpoint string
	P256dh   string
	Auth     string
}

// SubscriptionSource lists and prunes stored subscriptions.
type SubscriptionSource interface {
	ListByUser(ctx context.Context, userID int64) ([]Subscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Sender pushes notifications over Web Push. A nil Sender is a no-op, so
// callers need no "push enabled?" branches.
type Sender struct {
	keys    *VAPIDKeys
	subject string
	subs    SubscriptionSource
}

// NewSender returns nil when subject is empty (push disabled).
func NewSender(keys *VAPIDKeys, subject string, subs SubscriptionSource) *Sender {
	if subject == "" || keys == nil {
		return nil
	}
	return &Sender{keys: keys, subject: subject, subs: subs}
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends a push to every subscription of userID. Gone endpoints
// (404/410) are removed from the store.
func (s *Sender) Notify(ctx context.Context, userID int64, title, body string, data map[string]string) {
	if s == nil {
		return
	}
	defer logger.DeferLogDuration("push.Notify", time.Now())()

	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		logger.Errorf("push list subscriptions user=%d: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(notification{Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push marshal payload: %v", err)
		return
	}

	for _, sub := range subs {
		target := &webpush.Subscription{Endpoint: sub.Endpoint}
		target.Keys.P256dh = sub.P256dh
		target.Keys.Auth = sub.Auth

		resp, err := webpush.SendNotification(payload, target, &webpush.Options{
			Subscriber:      s.subject,
			VAPIDPublicKey:  s.keys.PublicKey,
			VAPIDPrivateKey: s.keys.PrivateKey,
			TTL:             60,
		})
		if err != nil {
			logger.Errorf("push send user=%d: %v", userID, err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			if err := s.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				logger.Errorf("push prune endpoint user=%d: %v", userID, err)
			}
		}
		resp.Body.Close()
	}
}
