// Package relay defines the wire frame format, the event surface, and the
// addressing rules shared by the gateway and the hub.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Client-initiated events.
const (
	EventJoinRoom          = "joinRoom"
	EventLeaveRoom         = "leaveRoom"
	EventSendMessageToRoom = "sendMessageToRoom"
	EventSendCryptogram    = "sendCryptogram"
	EventSendCryptoKey     = "sendCryptoKey"
	EventPingRoom          = "pingRoom"
	EventExportFile        = "exportFile"
	EventImportFile        = "importFile"
	EventFileChunk         = "file-chunk"
	EventFileEnd           = "file-end"
)

// Server-pushed events.
const (
	EventAck         = "ack"
	EventRoomMessage = "roomMessage"
	EventRoomPing    = "roomPing"
	EventCryptogram  = "Cryptogram"
	EventCryptoKey   = "CryptoKey"
)

// Frame is the unit exchanged on the wire, one per WebSocket message.
// Client frames carry an ack correlation id; zero means the client supplied
// no callback, in which case the operation is dropped without a response.
type Frame struct {
	Event string          `json:"event"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckStatus is the acknowledgement payload returned for every accepted
// client operation: {"200", <event>} on success, {"500", <composite>} on
// failure.
type AckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UserInfo identifies a room member as seen by other clients.
type UserInfo struct {
	Name   string `json:"name"`
	Socket string `json:"socket"`
}

// roomEvent is the payload broadcast for joinRoom and leaveRoom.
type roomEvent struct {
	Room string   `json:"room"`
	User UserInfo `json:"user"`
}

// roomPingEvent is the member list delivered point-to-point for pingRoom.
type roomPingEvent struct {
	Room string     `json:"room"`
	User []UserInfo `json:"user"`
}

// joinRequest carries the addressing fields of joinRoom and leaveRoom.
// The rest of the payload is opaque to the relay.
type joinRequest struct {
	Room string `json:"room" validate:"required"`
	Name string `json:"name"`
}

type roomAddressed struct {
	Room string `json:"room" validate:"required"`
}

type socketAddressed struct {
	Socket string `json:"socket" validate:"required"`
}

// nestedSocketAddressed models importFile's addressing: the target id is
// embedded in the cryptogram-reference sub-object rather than top-level.
type nestedSocketAddressed struct {
	CGram cryptogramRef `json:"cGram"`
}

type cryptogramRef struct {
	Socket string `json:"socket" validate:"required"`
}

var validate = validator.New()

// decodePayload unmarshals an event payload and enforces its required
// addressing fields.
func decodePayload(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validating payload: %w", err)
	}
	return nil
}

// addressKind distinguishes room broadcast from direct relay addressing.
type addressKind int

const (
	addrRoom addressKind = iota
	addrDirect
)

// address is the resolved destination of a relayed payload. Addressing
// shapes differ per event on the wire; resolving them up front keeps the
// fanout and relay logic shape-agnostic.
type address struct {
	kind   addressKind
	target string
}

func roomAddress(data json.RawMessage) (address, error) {
	var req roomAddressed
	if err := decodePayload(data, &req); err != nil {
		return address{}, err
	}
	return address{kind: addrRoom, target: req.Room}, nil
}

func socketAddress(data json.RawMessage) (address, error) {
	var req socketAddressed
	if err := decodePayload(data, &req); err != nil {
		return address{}, err
	}
	return address{kind: addrDirect, target: req.Socket}, nil
}

func nestedSocketAddress(data json.RawMessage) (address, error) {
	var req nestedSocketAddressed
	if err := decodePayload(data, &req); err != nil {
		return address{}, err
	}
	return address{kind: addrDirect, target: req.CGram.Socket}, nil
}

// encodeFrame marshals a server-pushed event frame.
func encodeFrame(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return encodeRawFrame(event, payload)
}

// encodeRawFrame wraps an already-serialized payload in an event frame,
// forwarding the payload bytes verbatim.
func encodeRawFrame(event string, data json.RawMessage) ([]byte, error) {
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", event, err)
	}
	return frame, nil
}
