// Package relay routes decoded client frames to their operations and
// applies the uniform acknowledgement contract in one place.
package relay

import (
	"encoding/json"
	"fmt"
)

// handlerFunc executes one client-initiated operation.
type handlerFunc func(c *Client, data json.RawMessage) error

// route describes a pure relay operation: how the payload is addressed and
// the event name it is delivered under.
type route struct {
	deliverAs string
	resolve   func(data json.RawMessage) (address, error)
}

// gateway wraps every inbound operation in the request/ack contract.
// Frames without an ack id are dropped before the operation runs, matching
// callers that supply no callback. Failures inside a handler are contained
// to the triggering call and surfaced only through the failure ack.
type gateway struct {
	hub      *Hub
	handlers map[string]handlerFunc
}

func newGateway(h *Hub) *gateway {
	g := &gateway{hub: h}
	g.handlers = map[string]handlerFunc{
		EventJoinRoom:  g.joinRoom,
		EventLeaveRoom: g.leaveRoom,
		EventPingRoom:  g.pingRoom,

		EventSendMessageToRoom: g.relay(route{deliverAs: EventRoomMessage, resolve: roomAddress}),
		EventSendCryptogram:    g.relay(route{deliverAs: EventCryptogram, resolve: socketAddress}),
		EventSendCryptoKey:     g.relay(route{deliverAs: EventCryptoKey, resolve: socketAddress}),
		EventExportFile:        g.relay(route{deliverAs: EventExportFile, resolve: socketAddress}),
		EventImportFile:        g.relay(route{deliverAs: EventImportFile, resolve: nestedSocketAddress}),
		EventFileChunk:         g.relay(route{deliverAs: EventFileChunk, resolve: socketAddress}),
		EventFileEnd:           g.relay(route{deliverAs: EventFileEnd, resolve: socketAddress}),
	}
	return g
}

// dispatch runs the operation named by the frame and acknowledges the
// outcome to the caller.
func (g *gateway) dispatch(c *Client, frame Frame) {
	if frame.Ack == 0 {
		// No callback supplied; the operation is dropped, not run.
		return
	}

	handler, ok := g.handlers[frame.Event]
	if !ok {
		c.log.Warn().Str("event", frame.Event).Msg("unknown event")
		return
	}

	if err := g.run(handler, c, frame.Data); err != nil {
		c.log.Warn().Str("event", frame.Event).Err(err).Msg("operation failed")
		g.ack(c, frame.Ack, AckStatus{
			Status:  "500",
			Message: string(frame.Data) + " " + frame.Event + ": " + err.Error(),
		})
		return
	}

	g.ack(c, frame.Ack, AckStatus{Status: "200", Message: frame.Event})
}

// run executes a handler, converting a panic into an error so one failing
// operation can never take down the process or other connections.
func (g *gateway) run(handler handlerFunc, c *Client, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(c, data)
}

// ack sends the acknowledgement frame for the given correlation id.
func (g *gateway) ack(c *Client, id uint64, status AckStatus) {
	payload, err := json.Marshal(status)
	if err != nil {
		c.log.Error().Err(err).Msg("error encoding ack payload")
		return
	}
	frame, err := json.Marshal(Frame{Event: EventAck, Ack: id, Data: payload})
	if err != nil {
		c.log.Error().Err(err).Msg("error encoding ack frame")
		return
	}
	g.hub.safeSend(c, frame)
}

// relay builds the handler for a pure relay operation: resolve the address
// once, then forward the payload verbatim.
func (g *gateway) relay(rt route) handlerFunc {
	return func(c *Client, data json.RawMessage) error {
		addr, err := rt.resolve(data)
		if err != nil {
			return err
		}
		switch addr.kind {
		case addrRoom:
			return g.hub.broadcastToRoom(addr.target, rt.deliverAs, data)
		default:
			return g.hub.relayTo(addr.target, rt.deliverAs, data)
		}
	}
}

func (g *gateway) joinRoom(c *Client, data json.RawMessage) error {
	var req joinRequest
	if err := decodePayload(data, &req); err != nil {
		return err
	}
	return g.hub.joinRoom(c, req.Room, req.Name)
}

func (g *gateway) leaveRoom(c *Client, data json.RawMessage) error {
	var req joinRequest
	if err := decodePayload(data, &req); err != nil {
		return err
	}
	return g.hub.leaveRoom(c, req.Room, req.Name)
}

// pingRoom's payload is the bare room name, not a structured object.
func (g *gateway) pingRoom(c *Client, data json.RawMessage) error {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		return fmt.Errorf("decoding room name: %w", err)
	}
	if room == "" {
		return fmt.Errorf("room name is required")
	}
	return g.hub.pingRoom(c, room)
}
