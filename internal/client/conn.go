package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/confchat/internal/logger"
	"github.com/confchat/internal/model"
	"github.com/confchat/internal/wire"
)

// ErrNotConnected is returned for any send attempted while the transport is
// down. Callers get no partial failure detail beyond this.
var ErrNotConnected = errors.New("not connected")

// Lifecycle identifies a transport state transition observable via OnLifecycle.
type Lifecycle string

const (
	LifecycleConnect    Lifecycle = "connect"
	LifecycleDisconnect Lifecycle = "disconnect"
	LifecycleReconnect  Lifecycle = "reconnect"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 4096
	ackTimeout       = 10 * time.Second
	reconnectMin     = time.Second
	reconnectMax     = 30 * time.Second
)

// Conn owns the single websocket connection of a client instance. It dials
// with the current credential, decodes server envelopes onto registered
// listeners, correlates send acknowledgments, and reconnects with capped
// backoff until Disconnect.
type Conn struct {
	wsURL  string
	tokens TokenSource
	dialer *websocket.Dialer

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// wmu serializes frame writes; gorilla allows one concurrent writer.
	wmu sync.Mutex

	pending map[string]chan wire.AckPayload

	onMessage   func(model.Message)
	msgSubs     map[int]func(model.Message)
	confirmSubs map[int]func(int64)
	lifeSubs    map[int]lifecycleSub
	nextSubID   int
}

type lifecycleSub struct {
	event Lifecycle
	fn    func()
}

func NewConn(wsURL string, tokens TokenSource) *Conn {
	return &Conn{
		wsURL:       wsURL,
		tokens:      tokens,
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		pending:     make(map[string]chan wire.AckPayload),
		msgSubs:     make(map[int]func(model.Message)),
		confirmSubs: make(map[int]func(int64)),
		lifeSubs:    make(map[int]lifecycleSub),
	}
}

// Connect starts the transport loop. Without a credential it is a silent
// no-op; while the loop is already running it is idempotent.
func (c *Conn) Connect(ctx context.Context) {
	token, err := c.tokens.Token(ctx)
	if err != nil || token == "" {
		logger.Debugf("conn: no credential, staying offline")
		return
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(runCtx)
}

// Disconnect stops the transport loop and waits for it to exit. Reconnection
// does not resume until the next Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	ws := c.ws
	c.mu.Unlock()

	cancel()
	if ws != nil {
		ws.Close()
	}
	c.wg.Wait()
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := reconnectMin
	attempt := 0
	for {
		token, err := c.tokens.Token(ctx)
		if err != nil || token == "" {
			// Credential revoked mid-run. Poll until it comes back.
			if !sleepCtx(ctx, backoff) {
				return
			}
			continue
		}

		header := http.Header{"Authorization": []string{"Bearer " + token}}
		ws, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("conn: dial %s: %v", c.wsURL, err)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.connected = true
		c.mu.Unlock()

		if attempt == 0 {
			c.emitLifecycle(LifecycleConnect)
		} else {
			c.emitLifecycle(LifecycleReconnect)
		}
		attempt++
		backoff = reconnectMin

		pingCtx, stopPing := context.WithCancel(ctx)
		go c.pingLoop(pingCtx, ws)
		c.readLoop(ctx, ws)
		stopPing()
		ws.Close()

		c.mu.Lock()
		c.connected = false
		c.ws = nil
		stale := c.pending
		c.pending = make(map[string]chan wire.AckPayload)
		c.mu.Unlock()

		// Closing the channel surfaces ErrNotConnected to waiting senders.
		for _, ch := range stale {
			close(ch)
		}
		c.emitLifecycle(LifecycleDisconnect)

		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.wmu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			c.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Debugf("conn: read: %v", err)
			}
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logger.Errorf("conn: bad envelope: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.EventAck:
		var ack wire.AckPayload
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			logger.Errorf("conn: bad ack payload: %v", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[ack.AckID]
		if ok {
			delete(c.pending, ack.AckID)
		}
		c.mu.Unlock()
		if ok {
			ch <- ack
		}

	case wire.EventReceiveMessage:
		var msg wire.ReceivePayload
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			logger.Errorf("conn: bad message payload: %v", err)
			return
		}
		c.mu.Lock()
		global := c.onMessage
		subs := make([]func(model.Message), 0, len(c.msgSubs))
		for _, fn := range c.msgSubs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		if global != nil {
			global(msg)
		}
		for _, fn := range subs {
			fn(msg)
		}

	case wire.EventMessageConfirmed:
		var p wire.ConfirmedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Errorf("conn: bad confirmed payload: %v", err)
			return
		}
		c.mu.Lock()
		subs := make([]func(int64), 0, len(c.confirmSubs))
		for _, fn := range c.confirmSubs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(p.ChatID)
		}

	case wire.EventError:
		var p wire.ErrorPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			logger.Errorf("conn: server error: %s", p.Error)
		}

	default:
		logger.Debugf("conn: unknown event %q", env.Type)
	}
}

// SendMessage submits one message and blocks until the server acknowledges
// it, reporting the conversation it landed in. Returns ErrNotConnected when
// the transport is down, including when it drops mid-flight.
func (c *Conn) SendMessage(ctx context.Context, receiverID int64, content string) (int64, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	ackID := uuid.New().String()
	ch := make(chan wire.AckPayload, 1)
	c.pending[ackID] = ch
	c.mu.Unlock()

	ev := wire.ClientEvent{
		Type:       wire.EventMessage,
		AckID:      ackID,
		ReceiverID: receiverID,
		Content:    content,
	}
	if err := c.emit(ev); err != nil {
		c.dropPending(ackID)
		return 0, err
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return 0, ErrNotConnected
		}
		if !ack.Success {
			if ack.Error == "" {
				return 0, errors.New("message rejected")
			}
			return 0, errors.New(ack.Error)
		}
		return ack.ChatID, nil
	case <-time.After(ackTimeout):
		c.dropPending(ackID)
		return 0, errors.New("timed out waiting for ack")
	case <-ctx.Done():
		c.dropPending(ackID)
		return 0, ctx.Err()
	}
}

func (c *Conn) dropPending(ackID string) {
	c.mu.Lock()
	delete(c.pending, ackID)
	c.mu.Unlock()
}

// emit writes one client event on the active socket.
func (c *Conn) emit(ev wire.ClientEvent) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()
	if !connected || ws == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(ev)
}

// OnMessageReceived installs the single global inbound handler. The last
// registration wins; RemoveMessageListener clears it.
func (c *Conn) OnMessageReceived(fn func(model.Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *Conn) RemoveMessageListener() {
	c.mu.Lock()
	c.onMessage = nil
	c.mu.Unlock()
}

// AddMessageListener registers an additional inbound handler alongside the
// global one and returns its remove func. Multiple listeners coexist.
func (c *Conn) AddMessageListener(fn func(model.Message)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.msgSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.msgSubs, id)
		c.mu.Unlock()
	}
}

// AddConfirmedListener registers a handler for delivery confirmations of the
// caller's own sends and returns its remove func.
func (c *Conn) AddConfirmedListener(fn func(chatID int64)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.confirmSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.confirmSubs, id)
		c.mu.Unlock()
	}
}

// OnLifecycle registers a handler for one transport transition and returns
// its remove func.
func (c *Conn) OnLifecycle(event Lifecycle, fn func()) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.lifeSubs[id] = lifecycleSub{event: event, fn: fn}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.lifeSubs, id)
		c.mu.Unlock()
	}
}

func (c *Conn) emitLifecycle(event Lifecycle) {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.lifeSubs))
	for _, sub := range c.lifeSubs {
		if sub.event == event {
			fns = append(fns, sub.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
