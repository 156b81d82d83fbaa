package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"social-lab/auth"
	"social-lab/domain"
	"time"

	"github.com/gorilla/websocket"
)

// frame is an outbound envelope as read off the wire.
type frame struct {
	Event domain.EventKind `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

// peer is one scripted user holding a live socket.
type peer struct {
	name   string
	conn   *websocket.Conn
	frames chan frame
	debug  func(name string, f frame)
}

func dial(ctx context.Context, cfg Config, tokens *auth.Tokens, user, username string, debug func(string, frame)) (*peer, error) {
	token, err := tokens.GenerateToken(user, username, nil, time.Hour)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.SocialURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s as %s: %w", cfg.SocialURL, user, err)
	}
	p := &peer{name: user, conn: conn, frames: make(chan frame, 256), debug: debug}
	go p.read()
	return p, nil
}

func (p *peer) read() {
	defer close(p.frames)
	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return
		}
		if p.debug != nil {
			p.debug(p.name, f)
		}
		select {
		case p.frames <- f:
		default:
			// Nobody is waiting on old frames
		}
	}
}

func (p *peer) send(kind domain.EventKind, data any) error {
	return p.conn.WriteJSON(map[string]any{"event": kind, "data": data})
}

// expect skips frames until one of kind arrives. A social_error fails the wait.
func (p *peer) expect(ctx context.Context, kind domain.EventKind, out any) error {
	return p.expectWhere(ctx, kind, out, nil)
}

// expectWhere also skips frames of kind until done reports true on the decoded out.
// State events are pushed often, earlier ones may still be queued.
func (p *peer) expectWhere(ctx context.Context, kind domain.EventKind, out any, done func() bool) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: no %s received: %w", p.name, kind, ctx.Err())
		case f, ok := <-p.frames:
			if !ok {
				return fmt.Errorf("%s: connection closed while waiting for %s", p.name, kind)
			}
			if f.Event == domain.SocialError && kind != domain.SocialError {
				return fmt.Errorf("%s: social_error %s", p.name, string(f.Data))
			}
			if f.Event != kind {
				continue
			}
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(f.Data, out); err != nil {
				return err
			}
			if done == nil || done() {
				return nil
			}
		}
	}
}

func (p *peer) close() {
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = p.conn.Close()
}
