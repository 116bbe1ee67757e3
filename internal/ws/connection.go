package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webterm/internal/shared/id"
)

// Transport is the write side of a client connection. *websocket.Conn
// satisfies it; tests substitute in-memory fakes.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one registered client. All writes to its transport go
// through a single write pump so frames never interleave.
type Connection struct {
	ID        id.ConnectionID
	UserID    string
	SessionID string
	CreatedAt time.Time

	transport Transport
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	pumpDone  chan struct{}
}

func newConnection(cid id.ConnectionID, t Transport, userID, sessionID string, queue int) *Connection {
	return &Connection{
		ID:        cid,
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		transport: t,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		pumpDone:  make(chan struct{}),
	}
}

// enqueue hands data to the write pump without blocking. It fails when the
// queue is full or the connection is closing.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close stops the write pump; the pump closes the transport on its way out
func (c *Connection) close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the connection stops accepting frames
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *Connection) writePump(pingInterval, writeWait time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.transport.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case <-c.done:
			// Flush what is already queued, then say goodbye
			for {
				select {
				case data := <-c.send:
					c.transport.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					c.transport.SetWriteDeadline(time.Now().Add(writeWait))
					c.transport.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case data := <-c.send:
			c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("websocket write failed",
					zap.String("connection_id", c.ID.String()),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
