package statusfeed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// conn is one WebSocket subscriber. Writes are serialized by mu.
type conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, log zerolog.Logger) *conn {
	return &conn{ws: ws, log: log, closed: make(chan struct{})}
}

// Close shuts down the connection. Safe to call more than once.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

func (c *conn) sendJSON(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Debug().Err(err).Msg("write error")
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (c *conn) sendClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller stopped")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// readLoop drains inbound frames so control messages are processed, and
// closes the connection when the peer goes away.
func (c *conn) readLoop() {
	defer c.Close()

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			select {
			case <-c.closed:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Debug().Err(err).Msg("read error")
				}
			}
			return
		}
	}
}

func (c *conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Debug().Err(err).Msg("ping error")
					c.Close()
				}
				return
			}
		}
	}
}
