// Package relay normalizes and validates HTTP origins for WebSocket
// upgrades, restricting browser access to the single trusted origin.
package relay

import (
	"net/http"
	"net/url"
	"strings"
)

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the configured origin. "*" disables
// the check.
func (s *Service) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}
	if s.cfg.AllowedOrigin == "*" {
		return true
	}

	origin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	allowed, ok := normalizeOrigin(s.cfg.AllowedOrigin)
	if !ok {
		s.log.Warn().Str("origin", s.cfg.AllowedOrigin).Msg("invalid allowed origin in configuration")
		return false
	}

	if origin != allowed {
		s.log.Warn().Str("origin", originHeader).Msg("blocked connection from disallowed origin")
		return false
	}
	return true
}
