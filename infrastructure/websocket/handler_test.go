package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"social-lab/auth"
	"social-lab/contract"
	"social-lab/domain"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

// gateway records the lifecycle it is told about and greets every connection.
type gateway struct {
	mu          sync.Mutex
	connected   []domain.Profile
	inbound     chan domain.Inbound
	disconnects chan domain.UserID
}

func newGateway() *gateway {
	return &gateway{inbound: make(chan domain.Inbound, 8), disconnects: make(chan domain.UserID, 8)}
}

func (g *gateway) Connect(ctx context.Context, _ domain.ConnID, profile domain.Profile, sink contract.EventSink) {
	g.mu.Lock()
	g.connected = append(g.connected, profile)
	g.mu.Unlock()
	_ = sink.Consume(ctx, domain.Envelope{Event: domain.FriendsStateEvent, Data: map[string]string{"hello": string(profile.UserID)}})
}

func (g *gateway) Dispatch(_ context.Context, _ domain.ConnID, _ domain.UserID, in domain.Inbound) {
	g.inbound <- in
}

func (g *gateway) Disconnect(_ context.Context, _ domain.ConnID, user domain.UserID) {
	g.disconnects <- user
}

func newServer(t *testing.T, g *gateway, origins ...string) *httptest.Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AllowedOrigins = origins
	handler := NewHandler(logs.GetLoggerFromLevel(slog.LevelDebug), auth.NewTokens(secret), g, cfg)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func bearer(t *testing.T, user string) http.Header {
	t.Helper()
	token, err := auth.NewTokens(secret).GenerateToken(user, "Alice", nil, time.Hour)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header
}

type frame struct {
	Event domain.EventKind `json:"event"`
	Data  map[string]any   `json:"data"`
}

func TestHandler_Round_Trip(t *testing.T) {
	req := require.New(t)
	g := newGateway()
	server := newServer(t, g)

	// Given an authenticated connection
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), bearer(t, "alice"))
	req.NoError(err)
	defer conn.Close()

	// Then the bootstrap pushed by the gateway arrives
	var greeting frame
	req.NoError(conn.ReadJSON(&greeting))
	req.Equal(domain.FriendsStateEvent, greeting.Event)
	req.Equal("alice", greeting.Data["hello"])

	// When a valid event is sent
	req.NoError(conn.WriteJSON(map[string]any{"event": "party_create", "data": map[string]any{}}))

	// Then it is dispatched
	select {
	case in := <-g.inbound:
		req.Equal(domain.PartyCreate, in.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("event not dispatched")
	}

	// When garbage is sent
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("{oops")))

	// Then the connection is told, not dropped
	var rejected frame
	req.NoError(conn.ReadJSON(&rejected))
	req.Equal(domain.SocialError, rejected.Event)
	req.Equal("validation_error", rejected.Data["code"])

	// When the client leaves
	req.NoError(conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	// Then the gateway cleans up once
	select {
	case user := <-g.disconnects:
		req.Equal(domain.UserID("alice"), user)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestHandler_Rejects_Missing_Or_Bad_Token(t *testing.T) {
	req := require.New(t)
	server := newServer(t, newGateway())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(server), header)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_Token_From_Query(t *testing.T) {
	req := require.New(t)
	server := newServer(t, newGateway())
	token, err := auth.NewTokens(secret).GenerateToken("alice", "Alice", nil, time.Hour)
	req.NoError(err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server)+"?token="+token, nil)

	req.NoError(err)
	_ = conn.Close()
}

func TestHandler_Origin_Allow_List(t *testing.T) {
	req := require.New(t)
	server := newServer(t, newGateway(), "https://Game.Example")

	header := bearer(t, "alice")
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	req.Error(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://game.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	req.NoError(err)
	_ = conn.Close()
}

func TestClient_Consume_Never_Blocks(t *testing.T) {
	req := require.New(t)
	cfg := DefaultConfig()
	cfg.SendBuffer = 1
	client := &Client{send: make(chan []byte, cfg.SendBuffer), cfg: cfg, log: logs.GetLoggerFromLevel(slog.LevelDebug)}
	ctx := context.Background()

	req.NoError(client.Consume(ctx, domain.Envelope{Event: domain.ChatTyping}))
	req.Error(client.Consume(ctx, domain.Envelope{Event: domain.ChatTyping}))

	client.Close()
	client.Close()
	req.Error(client.Consume(ctx, domain.Envelope{Event: domain.ChatTyping}))
}
