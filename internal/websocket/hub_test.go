package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeline-party/internal/notify"
)

func startHub(t *testing.T, origins ...string) (*Hub, *notify.Registry, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := notify.NewRegistry()
	hub := NewHub(registry, origins, logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, notify.Key{GameID: "g1", PlayerID: r.URL.Query().Get("player")})
	}))
	t.Cleanup(srv.Close)
	return hub, registry, srv
}

func dial(t *testing.T, srv *httptest.Server, player string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?player=" + player
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNotificationReachesConnectedPlayer(t *testing.T) {
	hub, registry, srv := startHub(t)
	conn := dial(t, srv, "bob")

	key := notify.Key{GameID: "g1", PlayerID: "bob"}
	require.Eventually(t, func() bool { return len(registry.Channels(key)) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Connections())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := notify.NewDispatcher(registry, logger)
	payload, err := notify.Notification{Type: "game_started", Payload: map[string]string{"game_id": "g1"}}.Encode()
	require.NoError(t, err)
	require.NoError(t, dispatcher.Publish(context.Background(), []notify.Key{key}, payload))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got notify.Notification
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "game_started", got.Type)
}

func TestPingIsAnswered(t *testing.T) {
	_, _, srv := startHub(t)
	conn := dial(t, srv, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","payload":null}`, string(data))
}

func TestClosedConnectionIsUnregistered(t *testing.T) {
	hub, registry, srv := startHub(t)
	conn := dial(t, srv, "bob")

	key := notify.Key{GameID: "g1", PlayerID: "bob"}
	require.Eventually(t, func() bool { return len(registry.Channels(key)) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return len(registry.Channels(key)) == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.Connections())
}

func TestClosedClientReportsDisconnected(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{}), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	require.NoError(t, c.Send(context.Background(), []byte("a")))

	// the buffer is full now
	assert.ErrorIs(t, c.Send(context.Background(), []byte("b")), notify.ErrDisconnected)
	assert.ErrorIs(t, c.Send(context.Background(), []byte("c")), notify.ErrDisconnected)
}

func TestOriginCheck(t *testing.T) {
	check := checkOrigin([]string{"https://party.example"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://party.example")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))

	assert.True(t, checkOrigin(nil)(r))
}

func TestRegisterIsVisibleImmediately(t *testing.T) {
	hub, registry, _ := startHub(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key := notify.Key{GameID: "g1", PlayerID: "carol"}
	client := &Client{key: key, hub: hub, send: make(chan []byte, 1), done: make(chan struct{}), logger: logger}

	hub.Register(client)

	// no waiting: a flush right after the upgrade must reach the client
	dispatcher := notify.NewDispatcher(registry, logger)
	require.NoError(t, dispatcher.Publish(context.Background(), []notify.Key{key}, []byte(`{"type":"turn_created"}`)))
	select {
	case msg := <-client.send:
		assert.JSONEq(t, `{"type":"turn_created"}`, string(msg))
	default:
		t.Fatal("notification was not delivered")
	}
}

func TestRegisterOnStoppedHubLeavesNoChannel(t *testing.T) {
	hub, registry, _ := startHub(t)
	hub.Stop()
	key := notify.Key{GameID: "g1", PlayerID: "carol"}
	client := &Client{key: key, hub: hub, send: make(chan []byte, 1), done: make(chan struct{}), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	hub.Register(client)

	require.Eventually(t, func() bool { return len(registry.Channels(key)) == 0 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return errors.Is(client.Send(context.Background(), []byte("x")), notify.ErrDisconnected)
	}, time.Second, 10*time.Millisecond)
}
