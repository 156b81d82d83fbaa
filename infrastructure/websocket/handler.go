package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"social-lab/auth"
	"social-lab/contract"
	"social-lab/domain"
	"social-lab/errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	ReadLimit      int64
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		ReadLimit:    64 * 1024,
		SendBuffer:   256,
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

// Authenticator binds a handshake to a user.
type Authenticator interface {
	Resolve(r *http.Request) (auth.Identity, error)
}

// Gateway receives the lifecycle and the inbound events of every connection.
type Gateway interface {
	Connect(ctx context.Context, conn domain.ConnID, profile domain.Profile, sink contract.EventSink)
	Dispatch(ctx context.Context, conn domain.ConnID, user domain.UserID, in domain.Inbound)
	Disconnect(ctx context.Context, conn domain.ConnID, user domain.UserID)
}

// Handler upgrades authenticated requests on /social and runs their pumps.
type Handler struct {
	log      *slog.Logger
	auth     Authenticator
	gateway  Gateway
	cfg      Config
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	anyOrig  bool
}

func NewHandler(log *slog.Logger, authenticator Authenticator, gateway Gateway, cfg Config) *Handler {
	h := &Handler{
		log:     log,
		auth:    authenticator,
		gateway: gateway,
		cfg:     cfg,
		origins: make(map[string]struct{}),
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			h.anyOrig = true
			continue
		}
		if normalized, ok := normalizeOrigin(origin); ok {
			h.origins[normalized] = struct{}{}
		} else if origin != "" {
			log.Warn("Ignoring invalid origin", "origin", origin)
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Resolve(r)
	if err != nil {
		h.log.Debug("Handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		h.log.Warn("Handshake rejected", "remote", r.RemoteAddr, "error", errors.ErrOriginNotAllowed, "origin", r.Header.Get("Origin"))
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	client := NewClient(ws, domain.ConnID(uuid.NewString()), identity.UserID, h.cfg, h.log)
	h.log.Debug("Client connected", "conn", client.ID, "user", client.User)

	// Hijacked connections outlive http.Server.Shutdown, close them with the server context
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	go client.WritePump()
	h.gateway.Connect(ctx, client.ID, identity.Profile, client)
	client.ReadPump(ctx, func(in domain.Inbound) {
		h.gateway.Dispatch(ctx, client.ID, client.User, in)
	})

	client.Close()
	h.gateway.Disconnect(context.WithoutCancel(ctx), client.ID, client.User)
}

// checkOrigin accepts requests without an Origin header, only browsers send one.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.anyOrig {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := h.origins[normalized]
	return allowed
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
