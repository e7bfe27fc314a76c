package main

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// outFrame is one queued write: a text frame or a ping probe.
type outFrame struct {
	ping bool
	data []byte
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID string
	ip     string
	send   chan outFrame

	// alive is cleared by each heartbeat tick and set again by a pong.
	alive   atomic.Bool
	open    atomic.Bool
	limiter *rate.Limiter

	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, ip string, limiter *rate.Limiter) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		connID:  uuid.NewString(),
		ip:      ip,
		send:    make(chan outFrame, sendBufferSize),
		limiter: limiter,
	}
	c.open.Store(true)
	c.alive.Store(true)
	return c
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log().Debug().Err(err).Str("conn", c.shortID()).Msg("read error")
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			framesDropped.WithLabelValues("rate_limited").Inc()
			Log().Debug().Str("conn", c.shortID()).Str("ip", c.ip).Msg("inbound frame rate limited")
			continue
		}

		c.hub.Inbound(c, message)
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for f := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err error
		if f.ping {
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		} else {
			err = c.conn.WriteMessage(websocket.TextMessage, f.data)
		}
		if err != nil {
			return
		}
	}

	// The hub closed the queue: say goodbye and let ReadPump unwind.
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// enqueue queues f if the connection is still open. A full queue drops the
// frame rather than stalling the hub.
func (c *Client) enqueue(f outFrame) bool {
	if !c.open.Load() {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		framesDropped.WithLabelValues("queue_full").Inc()
		return false
	}
}

func (c *Client) sendText(data []byte) bool {
	return c.enqueue(outFrame{data: data})
}

// Close stops further sends and makes WritePump close the socket. Only the
// hub goroutine calls it.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.send)
	})
}

func (c *Client) shortID() string {
	if len(c.connID) > 8 {
		return c.connID[:8]
	}
	return c.connID
}
