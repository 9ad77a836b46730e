package relay

import (
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// socket-level tests: a real server, real upgrades, real frames.

type testRelay struct {
	server *httptest.Server
	hub    *Hub
	key    *rsa.PrivateKey
}

func startTestRelay(t *testing.T) *testRelay {
	t.Helper()

	key := generateTestKey(t)
	verifier, err := NewVerifier(publicKeyPEM(t, key))
	require.NoError(t, err)

	cfg := NewConfig()
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	service := NewService(cfg, hub, verifier, zerolog.Nop())
	server := httptest.NewServer(service.Routes())

	t.Cleanup(func() {
		server.Close()
		_ = hub.Shutdown(time.Second)
	})

	return &testRelay{server: server, hub: hub, key: key}
}

func (tr *testRelay) token(t *testing.T) string {
	return signRS256(t, tr.key, jwt.MapClaims{
		"sub": "client",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func (tr *testRelay) wsURL(query string) string {
	return strings.Replace(tr.server.URL, "http", "ws", 1) + "/ws?" + query
}

func (tr *testRelay) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(
		tr.wsURL("token="+tr.token(t)+"&user="+user), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, ack uint64, data string) {
	t.Helper()
	frame := Frame{Event: event, Ack: ack, Data: json.RawMessage(data)}
	require.NoError(t, conn.WriteJSON(frame))
}

func TestConnectWithoutTokenIsRefused(t *testing.T) {
	req := require.New(t)
	tr := startTestRelay(t)

	conn, resp, err := websocket.DefaultDialer.Dial(tr.wsURL("user=alice"), nil)
	req.Error(err)
	req.Nil(conn)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	req.Equal("No Token\n", string(body))
}

func TestConnectWithInvalidTokenIsRefused(t *testing.T) {
	req := require.New(t)
	tr := startTestRelay(t)

	conn, resp, err := websocket.DefaultDialer.Dial(
		tr.wsURL("token=bogus&user=alice"), nil)
	req.Error(err)
	req.Nil(conn)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	req.Equal("invalid Token\n", string(body))
}

func TestConnectWithForeignKeyTokenIsRefused(t *testing.T) {
	req := require.New(t)
	tr := startTestRelay(t)

	foreign := signRS256(t, generateTestKey(t), jwt.MapClaims{"sub": "mallory"})
	_, resp, err := websocket.DefaultDialer.Dial(
		tr.wsURL("token="+foreign+"&user=mallory"), nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenAcceptedViaBearerHeader(t *testing.T) {
	req := require.New(t)
	tr := startTestRelay(t)

	header := http.Header{"Authorization": {"Bearer " + tr.token(t)}}
	conn, _, err := websocket.DefaultDialer.Dial(tr.wsURL("user=alice"), header)
	req.NoError(err)
	_ = conn.Close()
}

func TestJoinAndRoomMessageOverSocket(t *testing.T) {
	req := require.New(t)
	tr := startTestRelay(t)

	alice := tr.dial(t, "alice")
	bob := tr.dial(t, "bob")

	// Alice joins and observes her own join, then the ack.
	sendFrame(t, alice, EventJoinRoom, 1, `{"room":"lobby","name":"alice"}`)
	frame := readFrame(t, alice)
	req.Equal(EventJoinRoom, frame.Event)

	var joined roomEvent
	req.NoError(json.Unmarshal(frame.Data, &joined))
	req.Equal("lobby", joined.Room)
	req.Equal("alice", joined.User.Name)
	aliceID := joined.User.Socket

	status := readAck(t, alice, 1)
	req.Equal("200", status.Status)
	req.Equal(EventJoinRoom, status.Message)

	// Bob joins; alice sees it too.
	sendFrame(t, bob, EventJoinRoom, 1, `{"room":"lobby","name":"bob"}`)
	req.Equal(EventJoinRoom, readFrame(t, bob).Event)
	readAck(t, bob, 1)

	frame = readFrame(t, alice)
	req.Equal(EventJoinRoom, frame.Event)

	// Alice broadcasts; both receive the original payload.
	msg := `{"room":"lobby","text":"hi"}`
	sendFrame(t, alice, EventSendMessageToRoom, 2, msg)

	frame = readFrame(t, alice)
	req.Equal(EventRoomMessage, frame.Event)
	req.JSONEq(msg, string(frame.Data))
	readAck(t, alice, 2)

	frame = readFrame(t, bob)
	req.Equal(EventRoomMessage, frame.Event)
	req.JSONEq(msg, string(frame.Data))

	// Bob pings the room and alone receives the member list.
	sendFrame(t, bob, EventPingRoom, 2, `"lobby"`)
	frame = readFrame(t, bob)
	req.Equal(EventRoomPing, frame.Event)

	var ping roomPingEvent
	req.NoError(json.Unmarshal(frame.Data, &ping))
	req.Len(ping.User, 2)
	req.Contains(ping.User, UserInfo{Name: "alice", Socket: aliceID})
	readAck(t, bob, 2)
}

func TestDisconnectDropsMembershipOverSocket(t *testing.T) {
	req := require.New(t)
	tr := startTestRelay(t)

	alice := tr.dial(t, "alice")
	bob := tr.dial(t, "bob")

	sendFrame(t, alice, EventJoinRoom, 1, `{"room":"lobby","name":"alice"}`)
	readFrame(t, alice)
	readAck(t, alice, 1)

	sendFrame(t, bob, EventJoinRoom, 1, `{"room":"lobby","name":"bob"}`)
	readFrame(t, bob)
	readAck(t, bob, 1)
	readFrame(t, alice) // bob's join

	req.NoError(bob.Close())

	// The implicit leave is asynchronous with the transport teardown.
	req.Eventually(func() bool {
		tr.hub.mutex.RLock()
		defer tr.hub.mutex.RUnlock()
		return len(tr.hub.rooms.members("lobby")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	req := require.New(t)
	tr := startTestRelay(t)

	resp, err := http.Get(tr.server.URL + "/health")
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Equal("OK", string(body))

	// Hardening headers ride on every response.
	req.Equal("nosniff", resp.Header.Get("X-Content-Type-Options"))
	req.Equal("DENY", resp.Header.Get("X-Frame-Options"))
}

func readAck(t *testing.T, conn *websocket.Conn, id uint64) AckStatus {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, EventAck, frame.Event)
	require.Equal(t, id, frame.Ack)

	var status AckStatus
	require.NoError(t, json.Unmarshal(frame.Data, &status))
	return status
}
