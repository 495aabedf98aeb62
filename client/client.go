// Package client is the Go-side counterpart of the websocket transport.
// It reconnects with bounded backoff, replays room joins after a
// reconnect, throttles outgoing typing signals, and can acknowledge
// incoming messages through a pluggable read policy.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"negochat/domain"
	"negochat/ws"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// ReadPolicy decides when an incoming message gets acknowledged. The
// default waits a moment, mirroring a reader actually looking at the
// message; tests plug in an immediate policy.
type ReadPolicy interface {
	Schedule(ack func())
}

type DelayedRead struct{ Delay time.Duration }

func (p DelayedRead) Schedule(ack func()) { time.AfterFunc(p.Delay, ack) }

type ImmediateRead struct{}

func (ImmediateRead) Schedule(ack func()) { ack() }

type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string

	// MaxAttempts bounds each (re)connect cycle; BackoffBase doubles per
	// failed attempt.
	MaxAttempts int
	BackoffBase time.Duration

	// TypingThrottle suppresses repeated typing=true signals; a peer's
	// typing indicator auto-clears locally after TypingClearAfter in case
	// the server-side expiry frame gets lost.
	TypingThrottle   time.Duration
	TypingClearAfter time.Duration

	// AutoMarkRead acknowledges messages addressed to this user through
	// ReadPolicy.
	AutoMarkRead bool
	ReadPolicy   ReadPolicy

	Log *slog.Logger
}

func (o *Options) withDefaults() {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = time.Second
	}
	if o.TypingThrottle == 0 {
		o.TypingThrottle = 2 * time.Second
	}
	if o.TypingClearAfter == 0 {
		o.TypingClearAfter = 3 * time.Second
	}
	if o.ReadPolicy == nil {
		o.ReadPolicy = DelayedRead{Delay: time.Second}
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

type Client struct {
	opts  Options
	state atomic.Int32

	mu      sync.Mutex
	conn    *websocket.Conn
	joined  map[domain.ConversationKey]struct{}
	userID  string
	closed  bool
	handler func(ws.Frame)

	lastTypingMu sync.Mutex
	lastTyping   map[domain.ConversationKey]time.Time
	clearTimers  map[string]*time.Timer
}

func New(opts Options) *Client {
	opts.withDefaults()
	return &Client{
		opts:        opts,
		joined:      make(map[domain.ConversationKey]struct{}),
		lastTyping:  make(map[domain.ConversationKey]time.Time),
		clearTimers: make(map[string]*time.Timer),
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// OnEvent registers the single frame handler. Must be set before Connect.
func (c *Client) OnEvent(fn func(ws.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// Connect dials the server with bounded exponential backoff and starts
// the read loop. It returns once the socket is established.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))

	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.state.Store(int32(StateConnecting))

	url := c.opts.URL + "?token=" + c.opts.Token
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.opts.BackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				c.state.Store(int32(StateDisconnected))
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.opts.Log.Warn("Dial failed", "attempt", attempt+1, "error", err)
	}

	c.state.Store(int32(StateDisconnected))
	return nil, fmt.Errorf("gave up after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

// Close tears the connection down for good; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func (c *Client) JoinChat(key domain.ConversationKey) error {
	if err := c.send(ws.Envelope{Type: ws.CmdJoinChat, CampaignID: key.CampaignID, ProposalID: key.ProposalID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) LeaveChat(key domain.ConversationKey) error {
	c.mu.Lock()
	delete(c.joined, key)
	c.mu.Unlock()
	return c.send(ws.Envelope{Type: ws.CmdLeaveChat, CampaignID: key.CampaignID, ProposalID: key.ProposalID})
}

func (c *Client) SendMessage(key domain.ConversationKey, body string, attachment *ws.AttachmentPayload) error {
	return c.send(ws.Envelope{
		Type:       ws.CmdSendMessage,
		CampaignID: key.CampaignID,
		ProposalID: key.ProposalID,
		Message:    body,
		Attachment: attachment,
	})
}

// Typing signals the typing state. A true signal inside the throttle
// window is dropped, the server-side TTL keeps the indicator alive;
// false always goes through.
func (c *Client) Typing(key domain.ConversationKey, isTyping bool) error {
	if isTyping {
		c.lastTypingMu.Lock()
		last := c.lastTyping[key]
		if time.Since(last) < c.opts.TypingThrottle {
			c.lastTypingMu.Unlock()
			return nil
		}
		c.lastTyping[key] = time.Now()
		c.lastTypingMu.Unlock()
	} else {
		c.lastTypingMu.Lock()
		delete(c.lastTyping, key)
		c.lastTypingMu.Unlock()
	}
	return c.send(ws.Envelope{
		Type:       ws.CmdTyping,
		CampaignID: key.CampaignID,
		ProposalID: key.ProposalID,
		IsTyping:   isTyping,
	})
}

func (c *Client) MarkRead(key domain.ConversationKey, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return c.send(ws.Envelope{
		Type:       ws.CmdMarkRead,
		CampaignID: key.CampaignID,
		ProposalID: key.ProposalID,
		MessageIDs: messageIDs,
	})
}

func (c *Client) send(envelope ws.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || State(c.state.Load()) < StateConnected {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(envelope)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame ws.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed || ctx.Err() != nil {
				return
			}
			c.opts.Log.Warn("Connection lost, reconnecting", "error", err)
			c.reconnect(ctx)
			return
		}
		c.dispatch(frame)
	}
}

// reconnect re-dials and replays every joined room, so a short network
// blip is invisible apart from the history gap the caller can backfill
// over HTTP.
func (c *Client) reconnect(ctx context.Context) {
	c.state.Store(int32(StateDisconnected))

	conn, err := c.dial(ctx)
	if err != nil {
		c.opts.Log.Error("Reconnect failed, giving up", "error", err)
		return
	}

	c.mu.Lock()
	c.conn = conn
	rooms := make([]domain.ConversationKey, 0, len(c.joined))
	for key := range c.joined {
		rooms = append(rooms, key)
	}
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))

	for _, key := range rooms {
		if err := c.send(ws.Envelope{Type: ws.CmdJoinChat, CampaignID: key.CampaignID, ProposalID: key.ProposalID}); err != nil {
			c.opts.Log.Warn("Rejoin failed", "conversation", key.String(), "error", err)
		}
	}

	go c.readLoop(ctx, conn)
}

func (c *Client) dispatch(frame ws.Frame) {
	switch frame.Type {
	case ws.EvtConnected:
		c.mu.Lock()
		c.userID = frame.UserID
		c.mu.Unlock()
	case ws.EvtJoinedChat:
		c.state.Store(int32(StateJoined))
	case ws.EvtLeftChat:
		c.mu.Lock()
		remaining := len(c.joined)
		c.mu.Unlock()
		if remaining == 0 && State(c.state.Load()) == StateJoined {
			c.state.Store(int32(StateConnected))
		}
	case ws.EvtUserTyping:
		if frame.IsTyping {
			c.armTypingClear(frame)
		}
	case ws.EvtNewMessage:
		c.maybeAutoRead(frame)
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(frame)
	}
}

// armTypingClear synthesizes a typing=false frame if neither a renewal
// nor the server-side expiry arrives in time.
func (c *Client) armTypingClear(frame ws.Frame) {
	key := fmt.Sprintf("%d/%d/%s", frame.CampaignID, frame.ProposalID, frame.UserID)

	c.lastTypingMu.Lock()
	defer c.lastTypingMu.Unlock()
	if timer, ok := c.clearTimers[key]; ok {
		timer.Stop()
	}
	c.clearTimers[key] = time.AfterFunc(c.opts.TypingClearAfter, func() {
		c.dispatch(ws.Frame{
			Type:       ws.EvtUserTyping,
			CampaignID: frame.CampaignID,
			ProposalID: frame.ProposalID,
			UserID:     frame.UserID,
			IsTyping:   false,
		})
	})
}

func (c *Client) maybeAutoRead(frame ws.Frame) {
	if !c.opts.AutoMarkRead || frame.Message == nil {
		return
	}
	c.mu.Lock()
	me := c.userID
	c.mu.Unlock()
	if frame.Message.RecipientID != me {
		return
	}

	key := domain.ConversationKey{CampaignID: frame.CampaignID, ProposalID: frame.ProposalID}
	id := frame.Message.ID
	c.opts.ReadPolicy.Schedule(func() {
		if err := c.MarkRead(key, []string{id}); err != nil {
			c.opts.Log.Warn("Read acknowledgment failed", "error", err)
		}
	})
}
