// Package ws wraps a gorilla WebSocket connection with a single writer
// goroutine, a bounded outbound queue, and transport-level liveness.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Options control timing and queue depth for a connection.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int
}

// Conn serializes all writes to a WebSocket through one goroutine. A full
// outbound queue drops the oldest pending frame rather than blocking the
// sender, so one slow peer cannot stall fan-out to the others.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	enqueueMu sync.Mutex // serializes the drop-oldest swap on out
	closeOnce sync.Once
	log       zerolog.Logger
}

// New wraps an upgraded connection and starts its writer. The read
// deadline is armed immediately and refreshed by every pong.
func New(wsConn *websocket.Conn, opts Options, log zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     wsConn,
		opts:   opts,
		out:    make(chan []byte, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}

	_ = wsConn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.out:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("write failed, closing connection")
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send marshals v and queues it for delivery.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw queues pre-marshaled bytes. Broadcast paths marshal once and
// fan the same bytes to every subscriber.
func (c *Conn) SendRaw(data []byte) error {
	if c == nil {
		return ErrConnectionClosed
	}
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()
	select {
	case c.out <- data:
		return nil
	default:
	}
	// Queue full: shed the oldest pending frame and retry once.
	select {
	case dropped := <-c.out:
		c.log.Warn().Int("bytes", len(dropped)).Msg("outbound queue full, dropping oldest frame")
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// ReadMessage blocks for the next inbound frame.
func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

// Open reports whether the connection still accepts outbound frames.
func (c *Conn) Open() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Close terminates the connection. Safe to call from any goroutine, any
// number of times.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}
