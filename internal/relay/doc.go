// Package relay implements the core WebSocket relay: the token-gated
// connection registry, room membership and fanout, direct envelope and
// file-chunk forwarding, and the per-operation acknowledgement contract.
//
// The implementation is organized into specialized files for configuration,
// the hub, clients, the event gateway, and HTTP plumbing to keep the
// codebase maintainable and testable as the project grows.
package relay
