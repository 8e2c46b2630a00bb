// Package notify buffers game notifications during a use case and fans them
// out to the players' live channels once the use case committed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDisconnected is returned by a channel whose peer went away
var ErrDisconnected = errors.New("notify: channel disconnected")

// Key addresses the channels of one player in one game
type Key struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

// KeysFor builds the keys of several players of a game
func KeysFor(gameID string, playerIDs []string) []Key {
	keys := make([]Key, len(playerIDs))
	for i, id := range playerIDs {
		keys[i] = Key{GameID: gameID, PlayerID: id}
	}
	return keys
}

// Notification is the self-describing envelope sent to players
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Encode serializes the envelope
func (n Notification) Encode() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encoding %s notification: %w", n.Type, err)
	}
	return data, nil
}

// Channel is a live connection to one player
type Channel interface {
	// Send delivers one encoded notification. Any error unregisters the channel.
	Send(ctx context.Context, payload []byte) error
}

// Publisher delivers encoded notifications to the channels of the keys
type Publisher interface {
	Publish(ctx context.Context, keys []Key, payload []byte) error
}

type pending struct {
	keys         []Key
	notification Notification
}

// Buffer collects the notifications of one use case attempt
type Buffer struct {
	mu    sync.Mutex
	items []pending
}

// NewBuffer creates an empty buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add queues a notification for the given keys
func (b *Buffer) Add(keys []Key, n Notification) {
	if len(keys) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, pending{keys: keys, notification: n})
}

// Len returns the number of queued notifications
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Notifications returns the queued notifications in order
func (b *Buffer) Notifications() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notification, len(b.items))
	for i, p := range b.items {
		out[i] = p.notification
	}
	return out
}

func (b *Buffer) drain() []pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

// Notifier flushes buffers through a publisher
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewNotifier creates a notifier
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// Flush publishes and clears the buffer. Delivery problems are logged and
// never reported to the caller, the use case already committed.
func (n *Notifier) Flush(ctx context.Context, b *Buffer) {
	for _, p := range b.drain() {
		payload, err := p.notification.Encode()
		if err != nil {
			n.logger.Error("Dropping notification", "type", p.notification.Type, "error", err)
			continue
		}
		if err := n.publisher.Publish(ctx, p.keys, payload); err != nil {
			n.logger.Warn("Failed to publish notification",
				"type", p.notification.Type,
				"game_id", p.keys[0].GameID,
				"error", err,
			)
		}
	}
}

// Discard clears the buffer without sending anything
func (n *Notifier) Discard(b *Buffer) {
	b.drain()
}
