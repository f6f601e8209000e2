package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// Client is a websocket connection with a bounded send queue drained by
// WritePump, the only goroutine that writes to the socket.
type Client struct {
	id        string
	ws        *websocket.Conn
	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func NewClient(ws *websocket.Conn, buffer int, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		ws:     ws,
		send:   make(chan Frame, buffer),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues a frame. It returns false when the queue is full or the
// client is closed.
func (c *Client) Send(frame Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadFrame blocks for the next client frame.
func (c *Client) ReadFrame() (Frame, error) {
	var frame Frame
	err := websocket.JSON.Receive(c.ws, &frame)
	return frame, err
}

// WritePump writes queued frames until the client is closed or a write
// fails.
func (c *Client) WritePump() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := websocket.JSON.Send(c.ws, frame); err != nil {
				c.logger.Debug("Websocket write failed", "error", err)
				_ = c.Close()
				return
			}
		}
	}
}
