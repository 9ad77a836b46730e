// Package relay exposes the HTTP surface: the WebSocket upgrade with its
// authentication gate, and the health check.
package relay

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Service wires the hub, the token verifier, and the configuration behind
// the HTTP handlers. It is constructed once at startup; there is no ambient
// global state, so tests run against isolated instances.
type Service struct {
	cfg      *Config
	hub      *Hub
	verifier *Verifier
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewService creates the HTTP-facing service for the given hub and
// verifier.
func NewService(cfg *Config, hub *Hub, verifier *Verifier, log zerolog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		hub:      hub,
		verifier: verifier,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// WebSocketHandler gates every connection attempt through token
// verification, then upgrades and registers the client. A failed
// verification refuses the attempt before any connection state exists.
func (s *Service) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	token := handshakeToken(r)
	if token == "" {
		s.log.Warn().Str("addr", r.RemoteAddr).Msg("connection refused: no token")
		http.Error(w, "No Token", http.StatusUnauthorized)
		return
	}
	if err := s.verifier.Verify(token); err != nil {
		s.log.Warn().Str("addr", r.RemoteAddr).Msg("connection refused: invalid token")
		http.Error(w, "invalid Token", http.StatusUnauthorized)
		return
	}

	// The display identity is taken from the handshake, not from token
	// claims; any holder of a valid token can claim any name.
	username := r.URL.Query().Get("user")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn, s.hub, username, token, r.RemoteAddr, s.cfg)

	// Register with the hub; the hub launches the pump goroutines.
	s.hub.register <- client
}

// handshakeToken extracts the signed token from the upgrade request: an
// Authorization bearer header when present, otherwise the token query
// parameter (browsers cannot set headers on WebSocket dials).
func handshakeToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// HealthHandler reports service liveness.
func (s *Service) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
