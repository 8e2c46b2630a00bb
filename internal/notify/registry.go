package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Registry tracks the live channels of every (game, player) key
type Registry struct {
	mu       sync.RWMutex
	channels map[Key]map[Channel]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{channels: make(map[Key]map[Channel]struct{})}
}

// Register adds a channel for the key. Registering twice is a no-op.
func (r *Registry) Register(key Key, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.channels[key]
	if !ok {
		set = make(map[Channel]struct{})
		r.channels[key] = set
	}
	set[ch] = struct{}{}
}

// Unregister removes a channel. Unknown channels are ignored.
func (r *Registry) Unregister(key Key, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.channels[key]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(r.channels, key)
	}
}

// Channels returns a snapshot of the channels registered for the key
func (r *Registry) Channels(key Key) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.channels[key]
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// Stats summarizes the registry
type Stats struct {
	Keys     int `json:"keys"`
	Channels int `json:"channels"`
	Games    int `json:"games"`
}

// Stats returns the number of registered keys, channels and games
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	games := make(map[string]struct{})
	st := Stats{Keys: len(r.channels)}
	for key, set := range r.channels {
		st.Channels += len(set)
		games[key.GameID] = struct{}{}
	}
	st.Games = len(games)
	return st
}

// Dispatcher delivers notifications to the channels of the local registry
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

// Publish sends the payload to every channel of every key. A failing
// channel is unregistered and the others still get the payload.
func (d *Dispatcher) Publish(ctx context.Context, keys []Key, payload []byte) error {
	for _, key := range keys {
		for _, ch := range d.registry.Channels(key) {
			if err := ch.Send(ctx, payload); err != nil {
				d.registry.Unregister(key, ch)
				d.logger.Debug("Unregistered channel",
					"game_id", key.GameID,
					"player_id", key.PlayerID,
					"error", err,
				)
			}
		}
	}
	return nil
}
