package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
)

// PreviewSink receives the preview derived from every inbound message.
// services.ConversationStore implements it.
type PreviewSink interface {
	Apply(preview models.ConversationPreview) bool
}

// Dialer opens websocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Backoff is the reconnect policy: Initial, doubled on every failed
// attempt, capped at Max. MaxAttempts of 0 retries until Close.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the wait before reconnect attempt n (n >= 1).
func (b Backoff) Delay(attempt int) time.Duration {
	initial, max := b.Initial, b.Max
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	URL         string             // ws(s)://host/api/chat
	LocalUserID string             // sent as ?sender_id=
	Header      func() http.Header // handshake headers (session cookie); may be nil
	Backoff     Backoff
}

// Channel is the single push connection of a session.
//
// States: DISCONNECTED → CONNECTING → OPEN → CLOSED. An unexpected closure
// goes to CLOSED and, after the backoff delay, back to CONNECTING. Close
// ends the cycle for good.
//
// Inbound frames are handled on the supervisor goroutine, so subscribers of
// OpMessage see messages in arrival order.
type Channel struct {
	cfg    ChannelConfig
	hub    EventPublisher
	sink   PreviewSink
	dialer Dialer

	mu      sync.Mutex
	state   models.ChannelState
	conn    *connection
	running bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewChannel creates a DISCONNECTED channel. A nil dialer uses a
// websocket.Dialer with a 10s handshake timeout.
func NewChannel(cfg ChannelConfig, hub EventPublisher, sink PreviewSink, dialer Dialer) *Channel {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Channel{
		cfg:    cfg,
		hub:    hub,
		sink:   sink,
		dialer: dialer,
		state:  models.ChannelDisconnected,
	}
}

// State returns the current state.
func (c *Channel) State() models.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts connecting in the background and returns immediately.
// Progress is reported through OpChannelState events.
//
// A channel that is connecting, open or waiting to reconnect returns
// ErrAlreadyOpen: one session owns exactly one connection. ctx bounds the
// whole lifetime of the channel, reconnects included.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return pkg.ErrAlreadyOpen
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Close closes the connection deliberately: no reconnect follows. It waits
// for the supervisor goroutine to exit and is safe to call more than once.
//
// Close must not be called from an OpMessage subscriber: those run on the
// supervisor goroutine it waits for.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Send queues an outbound message frame. It fails with ErrChannelNotReady
// unless the channel is OPEN; the message is never silently dropped.
func (c *Channel) Send(req models.SendMessageRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	open := c.state == models.ChannelOpen
	c.mu.Unlock()

	if !open || conn == nil {
		return pkg.ErrChannelNotReady
	}
	return conn.enqueue(data)
}

// run is the supervisor loop: dial, serve until the connection ends, wait
// the backoff delay, repeat.
func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.stopped()

	attempt := 0
	for {
		c.setState(models.ChannelConnecting, attempt)

		ws, err := c.dial(ctx)
		if err == nil {
			attempt = 0
			err = c.serve(ctx, ws)
		}

		if ctx.Err() != nil {
			c.setState(models.ChannelClosed, 0)
			c.hub.Publish(Event{Op: OpChannelClosed, Data: ChannelClosedData{Deliberate: true}})
			log.Println("[ws] channel closed")
			return
		}

		attempt++
		transportErr := fmt.Errorf("%w: %w", pkg.ErrTransport, err)

		final := errors.Is(err, pkg.ErrUnauthorized) ||
			(c.cfg.Backoff.MaxAttempts > 0 && attempt > c.cfg.Backoff.MaxAttempts)
		if final {
			c.setState(models.ChannelClosed, attempt)
			c.hub.Publish(Event{Op: OpChannelClosed, Data: ChannelClosedData{Err: transportErr, Final: true}})
			log.Printf("[ws] giving up after %d attempts: %v", attempt, err)
			return
		}

		delay := c.cfg.Backoff.Delay(attempt)
		c.setState(models.ChannelClosed, attempt)
		c.hub.Publish(Event{Op: OpChannelClosed, Data: ChannelClosedData{Err: transportErr, RetryIn: delay}})
		log.Printf("[ws] connection lost (%v), reconnecting in %s (attempt %d)", err, delay, attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(models.ChannelClosed, 0)
			c.hub.Publish(Event{Op: OpChannelClosed, Data: ChannelClosedData{Deliberate: true}})
			log.Println("[ws] channel closed while waiting to reconnect")
			return
		case <-timer.C:
		}
	}
}

// stopped runs when the supervisor exits, whether closed or out of
// attempts, so a later Open can start a new one.
func (c *Channel) stopped() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.running = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid chat url: %w", err)
	}
	q := u.Query()
	q.Set("sender_id", c.cfg.LocalUserID)
	u.RawQuery = q.Encode()

	var header http.Header
	if c.cfg.Header != nil {
		header = c.cfg.Header()
	}

	ws, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", pkg.ErrUnauthorized, resp.StatusCode)
		}
		return nil, err
	}
	return ws, nil
}

// serve runs one live connection until it ends. A cancelled ctx closes it
// deliberately.
func (c *Channel) serve(ctx context.Context, ws *websocket.Conn) error {
	conn := newConnection(ws)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(models.ChannelOpen, 0)
	log.Printf("[ws] connected as %s", c.cfg.LocalUserID)

	go conn.writePump()
	stop := context.AfterFunc(ctx, func() { conn.close(true) })
	defer stop()

	err := conn.readPump(c.handleFrame)
	conn.close(false)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	return err
}

func (c *Channel) setState(state models.ChannelState, attempt int) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.hub.Publish(Event{Op: OpChannelState, Data: ChannelStateData{State: state, Attempt: attempt}})
}

// wireFrame is the {op,d} envelope. Message frames have no op.
type wireFrame struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d"`
}

// handleFrame dispatches one inbound frame. Frames that fail to parse are
// logged and dropped; nothing is published for them and the preview store
// is left untouched.
func (c *Channel) handleFrame(raw []byte) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("[ws] dropping frame: %v: %v", pkg.ErrMalformedPayload, err)
		return
	}

	switch frame.Op {
	case "":
		c.handleMessage(raw)

	case OpMessage:
		c.handleMessage(frame.Data)

	case OpPresenceUpdate:
		var data PresenceData
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.UserID == "" {
			log.Printf("[ws] dropping presence frame: %v", pkg.ErrMalformedPayload)
			return
		}
		c.hub.Publish(Event{Op: OpPresenceChanged, Data: data})

	case OpRosterInvalidate:
		c.hub.Publish(Event{Op: OpRosterRefresh})

	default:
		log.Printf("[ws] unknown op: %s", frame.Op)
	}
}

func (c *Channel) handleMessage(raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		log.Printf("[ws] dropping frame: %v", err)
		return
	}

	if c.sink != nil {
		c.sink.Apply(msg.Preview(c.cfg.LocalUserID))
	}
	c.hub.Publish(Event{Op: OpMessage, Data: msg})
}

// ParseMessage decodes a message frame.
//
// A frame without sender or receiver is malformed. A missing nickname falls
// back to the sender id. A missing created_at is stamped with the arrival
// time: pushed messages are always the newest.
func ParseMessage(raw []byte) (models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(bytes.TrimSpace(raw), &msg); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", pkg.ErrMalformedPayload, err)
	}
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return models.Message{}, fmt.Errorf("%w: missing sender or receiver", pkg.ErrMalformedPayload)
	}

	if msg.SenderNickname == "" {
		msg.SenderNickname = msg.SenderID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return msg, nil
}
