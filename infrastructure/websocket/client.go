package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"social-lab/domain"
	"social-lab/errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection. Reads are dispatched in order from the read pump,
// writes go through a bounded queue drained by the write pump.
type Client struct {
	ID   domain.ConnID
	User domain.UserID

	conn      *websocket.Conn
	send      chan []byte
	cfg       Config
	log       *slog.Logger
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, id domain.ConnID, user domain.UserID, cfg Config, log *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	return &Client{
		ID:   id,
		User: user,
		conn: conn,
		send: make(chan []byte, cfg.SendBuffer),
		cfg:  cfg,
		log:  log.With("conn", id, "user", user),
	}
}

// Consume never blocks: a full queue loses the event for this connection only.
func (c *Client) Consume(_ context.Context, e domain.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.ErrConnectionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.ErrSendQueueFull
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

// ReadPump blocks until the connection fails or ctx is done.
func (c *Client) ReadPump(ctx context.Context, dispatch func(in domain.Inbound)) {
	defer func() {
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for ctx.Err() == nil {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		var in domain.Inbound
		if err = json.Unmarshal(raw, &in); err != nil || in.Event == "" {
			c.reject(errors.ErrInvalidPayload)
			continue
		}
		dispatch(in)
	}
}

func (c *Client) reject(err error) {
	payload := domain.ErrorPayload{
		Message: errors.PublicMessage(err),
		Code:    string(errors.KindOf(err)),
	}
	if sendErr := c.Consume(context.Background(), domain.Envelope{Event: domain.SocialError, Data: payload}); sendErr != nil {
		c.log.Debug("Rejection not delivered", "error", sendErr)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Frame exceeded the read limit", "limit", c.cfg.ReadLimit)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("Client disconnected")
	case errors.Is(err, io.EOF), websocket.IsCloseError(err, websocket.CloseAbnormalClosure):
		c.log.Debug("Connection closed", "error", err)
	default:
		c.log.Warn("Read failed", "error", err)
	}
}

// WritePump drains the send queue and pings the peer until the client is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}
