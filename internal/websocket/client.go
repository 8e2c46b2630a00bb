package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/timeline-party/internal/notify"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 64
)

// Client is the websocket channel of one player in one game
type Client struct {
	id     string
	key    notify.Key
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// clientMessage is the only thing a player may send upstream
type clientMessage struct {
	Type string `json:"type"`
}

func newClient(hub *Hub, conn *websocket.Conn, key notify.Key, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		key:    key,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger.With("client_id", id, "game_id", key.GameID, "player_id", key.PlayerID),
	}
}

// Send queues a notification. A closed or congested client reports
// notify.ErrDisconnected so the dispatcher drops it.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return notify.ErrDisconnected
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return notify.ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	default:
		c.logger.Warn("Client buffer full, disconnecting")
		c.close()
		return notify.ErrDisconnected
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump watches the connection until the peer goes away
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != "ping" {
			c.logger.Debug("ignoring client message")
			continue
		}
		pong, _ := notify.Notification{Type: "pong"}.Encode()
		select {
		case c.send <- pong:
		default:
		}
	}
}

// writePump moves queued notifications to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
