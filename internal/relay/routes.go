// Package relay wires the HTTP handlers and middleware chain into a
// ServeMux.
package relay

import "net/http"

// Routes configures the relay's HTTP surface: the health check, the
// WebSocket endpoint, and the hardening / rate-limiting / logging chain
// applied in front of both.
func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)

	limiter := newHTTPRateLimiter(s.cfg.HTTPRateRequests, s.cfg.HTTPRateWindow)

	var handler http.Handler = mux
	handler = limiter.middleware(handler)
	handler = corsHeaders(s.cfg.AllowedOrigin)(handler)
	handler = securityHeaders(handler)
	handler = requestLogger(s.log)(handler)
	return handler
}
