// Package ws websocket connections with a ping heartbeat and serialized writes
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/infrastructure/logging"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 3 * time.Second,
}

var (
	writeWait    = 10 * time.Second
	pongWait     = 30 * time.Second
	pingInterval = pongWait * 9 / 10
	sendBuffer   = 64
)

// ErrConnClosed write after close
var ErrConnClosed = errors.New("websocket connection closed")

// Conn upgraded connection. Reads belong to the handler goroutine, writes go
// through a single writer goroutine that also sends pings.
type Conn struct {
	conn      *websocket.Conn
	send      chan interface{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(conn *websocket.Conn) *Conn {
	c := &Conn{
		conn: conn,
		send: make(chan interface{}, sendBuffer),
		done: make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writeRoutine()
	return c
}

// Send queue a JSON frame, returns false when the peer is too slow or gone
func (c *Conn) Send(v interface{}) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- v:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// ReadJSON read the next frame, any client frame also counts as liveness
func (c *Conn) ReadJSON(v interface{}) error {
	if err := c.conn.ReadJSON(v); err != nil {
		return err
	}
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// Done closed when the connection is torn down
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close tear down the connection, safe to call more than once
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) writeRoutine() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case v := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(v); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Handler serve one upgraded connection, the connection is closed when it returns
type Handler func(ctx context.Context, conn *Conn) error

// WithHeartbeat wrap handler function with heartbeat probe
func WithHeartbeat(handler Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		wsc, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader already replied
			return nil
		}
		conn := newConn(wsc)
		defer conn.Close()

		ctx := c.Request().Context()
		err = handler(ctx, conn)
		if err != nil && !IsClosed(err) {
			logging.ExtractLoggerFromContext(ctx).Debug("websocket closed", zap.Error(err))
		}
		return nil
	}
}

// IsClosed err is an ordinary end of the conversation
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
