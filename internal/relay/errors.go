package relay

import "errors"

// Sentinel errors for the connection auth gate. The verifier deliberately
// collapses every verification failure into ErrInvalidToken so the gate
// stays uniform and leaks nothing about why a token was refused.
var (
	ErrNoToken      = errors.New("no token")
	ErrInvalidToken = errors.New("invalid token")
)
