// Package relay coordinates client registration, room fanout, direct
// relays, and connection cleanup via the Hub type.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Hub owns the connection registry and the room membership index, the only
// state shared across connections. It is constructed once at startup and
// handed to every connection's handler context; all mutations appear atomic
// to concurrent readers computing a fanout list.
type Hub struct {
	clients    map[string]*Client
	rooms      *roomIndex
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	gateway    *gateway
	log        zerolog.Logger
}

// NewHub creates a Hub ready to manage relay connections.
func NewHub(log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[string]*Client),
		rooms:      newRoomIndex(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
	h.gateway = newGateway(h)
	return h
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It should be called in a separate goroutine as it runs
// until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// addClient enters the client into the registry and starts its pumps.
func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	count := len(h.clients)
	h.mutex.Unlock()

	h.log.Info().
		Str("conn", client.id).
		Str("user", client.username).
		Str("addr", client.addr).
		Int("total", count).
		Msg("client registered")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient drops the client from the registry and from every room it
// joined, the implicit leave on disconnect. No departure is broadcast.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	h.rooms.dropAll(client.id)
	client.closed = true
	count := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)
	h.log.Info().
		Str("conn", client.id).
		Str("user", client.username).
		Int("total", count).
		Msg("client unregistered")
}

// joinRoom adds the connection to the room's member set and broadcasts a
// joinRoom event to every current member, the joiner included. Re-joining
// re-broadcasts but does not duplicate membership.
func (h *Hub) joinRoom(c *Client, room, name string) error {
	h.mutex.Lock()
	h.rooms.join(room, c.id)
	members := h.rooms.members(room)
	h.mutex.Unlock()

	payload := roomEvent{Room: room, User: UserInfo{Name: name, Socket: c.id}}
	return h.deliver(members, EventJoinRoom, payload)
}

// leaveRoom removes the connection from the room's member set and
// broadcasts a leaveRoom event to the remaining members. Leaving a room not
// joined raises no error.
func (h *Hub) leaveRoom(c *Client, room, name string) error {
	h.mutex.Lock()
	h.rooms.leave(room, c.id)
	members := h.rooms.members(room)
	h.mutex.Unlock()

	payload := roomEvent{Room: room, User: UserInfo{Name: name, Socket: c.id}}
	return h.deliver(members, EventLeaveRoom, payload)
}

// broadcastToRoom delivers the payload verbatim to every member of the room
// at dispatch time. Fire-and-forget: members who disconnect mid-fanout
// simply receive nothing.
func (h *Hub) broadcastToRoom(room, event string, data json.RawMessage) error {
	h.mutex.RLock()
	members := h.rooms.members(room)
	h.mutex.RUnlock()

	frame, err := encodeRawFrame(event, data)
	if err != nil {
		return err
	}
	h.fanout(members, frame)
	return nil
}

// relayTo delivers the payload verbatim to the single connection identified
// by target. A target with no live connection is a silent no-op: connection
// ids are ephemeral and races between lookup and disconnect are expected.
func (h *Hub) relayTo(target, event string, data json.RawMessage) error {
	frame, err := encodeRawFrame(event, data)
	if err != nil {
		return err
	}
	h.fanout([]string{target}, frame)
	return nil
}

// pingRoom resolves the room's current member list and delivers it under
// roomPing to the requester only.
func (h *Hub) pingRoom(c *Client, room string) error {
	h.mutex.RLock()
	infos := lo.FilterMap(h.rooms.members(room), func(id string, _ int) (UserInfo, bool) {
		member, ok := h.clients[id]
		if !ok {
			return UserInfo{}, false
		}
		return UserInfo{Name: member.username, Socket: member.id}, true
	})
	h.mutex.RUnlock()

	return h.deliver([]string{c.id}, EventRoomPing, roomPingEvent{Room: room, User: infos})
}

// deliver marshals a server-built payload and fans it out to the given
// connection ids.
func (h *Hub) deliver(ids []string, event string, payload interface{}) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	h.fanout(ids, frame)
	return nil
}

// fanout sends a framed message to each addressed connection that is still
// live, then prunes any whose send buffer was full.
func (h *Hub) fanout(ids []string, frame []byte) {
	var clientsToRemove []*Client

	h.mutex.RLock()
	for _, id := range ids {
		client, ok := h.clients[id]
		if !ok {
			continue
		}
		if !h.sendLocked(client, frame) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	h.mutex.RUnlock()

	h.removeFailedClients(clientsToRemove)
}

// safeSend delivers one frame to one client, holding the registry lock so
// the liveness check and the send cannot race a disconnect.
func (h *Hub) safeSend(client *Client, frame []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sendLocked(client, frame)
}

// sendLocked performs the non-blocking send; callers must hold at least a
// read lock on the registry.
func (h *Hub) sendLocked(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn().Interface("panic", r).Msg("recovered from panic in send")
		}
	}()

	if _, ok := h.clients[client.id]; !ok || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// removeFailedClients unregisters clients that failed to receive messages
// and closes their send channels.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, ok := h.clients[client.id]; !ok {
			continue
		}
		delete(h.clients, client.id)
		h.rooms.dropAll(client.id)
		client.closed = true
		channelsToClose = append(channelsToClose, client.send)
		h.log.Warn().Str("conn", client.id).Msg("client removed due to full send buffer")
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock.
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Error().Err(err).Str("conn", client.id).Msg("error closing client connection")
		}
	}

	h.log.Info().Int("count", len(clients)).Msg("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
