package ws

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akinalp/forumchat/pkg"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long the connection may stay silent. Every pong (and
	// every frame) extends the read deadline by this much.
	pongWait = 60 * time.Second

	// pingPeriod must stay below pongWait.
	pingPeriod = 30 * time.Second

	// maxMessageSize fits a 2000-rune message with its envelope.
	maxMessageSize = 16 * 1024

	// sendBufferSize is the outbound queue length. A full queue means the
	// writer is stuck; Send then fails instead of blocking the caller.
	sendBufferSize = 64
)

// connection is one live websocket: a read pump running on the Channel's
// supervisor goroutine and a write pump on its own goroutine.
//
// gorilla/websocket allows one concurrent reader and one concurrent writer.
// Every write goes through writeMessage, which holds mu.
type connection struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	mu   sync.Mutex

	closeOnce sync.Once
}

func newConnection(conn *websocket.Conn) *connection {
	return &connection{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// readPump reads frames until the connection fails and hands each one to
// onFrame. It returns the error that ended the loop.
func (c *connection) readPump(onFrame func([]byte)) error {
	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] unexpected close: %v", err)
			}
			return err
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		onFrame(raw)
	}
}

// writePump drains the send queue and pings every pingPeriod. A failed
// write closes the socket, which ends readPump as well.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[ws] write failed: %v", err)
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[ws] ping failed: %v", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// enqueue hands a frame to the write pump.
func (c *connection) enqueue(data []byte) error {
	select {
	case <-c.done:
		return pkg.ErrChannelNotReady
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return pkg.ErrChannelNotReady
	default:
		return fmt.Errorf("%w: send queue full", pkg.ErrTransport)
	}
}

// close stops the write pump and closes the socket. With deliberate set the
// peer gets a normal-closure frame first. Only the first call has effect.
func (c *connection) close(deliberate bool) {
	c.closeOnce.Do(func() {
		// The close frame goes out before done is closed: the write pump
		// closes the socket as soon as it sees done.
		if deliberate {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout")
			if err := c.writeMessage(websocket.CloseMessage, msg); err != nil {
				log.Printf("[ws] close frame not sent: %v", err)
			}
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *connection) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
