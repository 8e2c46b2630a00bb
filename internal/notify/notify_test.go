package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingChannel struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (c *recordingChannel) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *recordingChannel) received() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.payloads))
	for i, p := range c.payloads {
		_ = json.Unmarshal(p, &out[i])
	}
	return out
}

func TestRegistryIsIdempotent(t *testing.T) {
	r := NewRegistry()
	key := Key{GameID: "g1", PlayerID: "alice"}
	ch := &recordingChannel{}

	r.Register(key, ch)
	r.Register(key, ch)
	assert.Len(t, r.Channels(key), 1)
	assert.Equal(t, Stats{Keys: 1, Channels: 1, Games: 1}, r.Stats())

	r.Unregister(key, ch)
	r.Unregister(key, ch)
	assert.Empty(t, r.Channels(key))
	assert.Equal(t, Stats{}, r.Stats())
}

func TestFlushDeliversAfterwardsOnly(t *testing.T) {
	r := NewRegistry()
	bob, carol := &recordingChannel{}, &recordingChannel{}
	r.Register(Key{GameID: "g1", PlayerID: "bob"}, bob)
	r.Register(Key{GameID: "g1", PlayerID: "carol"}, carol)
	n := NewNotifier(NewDispatcher(r, discardLogger), discardLogger)

	b := NewBuffer()
	b.Add(KeysFor("g1", []string{"bob", "carol"}), Notification{Type: "game_aborted", Payload: map[string]string{"game_id": "g1"}})
	b.Add(nil, Notification{Type: "ignored"})
	assert.Equal(t, 1, b.Len())
	assert.Empty(t, bob.received())

	n.Flush(context.Background(), b)
	assert.Zero(t, b.Len())

	want := []Notification{{Type: "game_aborted", Payload: map[string]any{"game_id": "g1"}}}
	assert.Equal(t, want, bob.received())
	assert.Equal(t, want, carol.received())

	// flushing again sends nothing
	n.Flush(context.Background(), b)
	assert.Len(t, bob.received(), 1)
}

func TestDiscardClearsBuffer(t *testing.T) {
	r := NewRegistry()
	bob := &recordingChannel{}
	r.Register(Key{GameID: "g1", PlayerID: "bob"}, bob)
	n := NewNotifier(NewDispatcher(r, discardLogger), discardLogger)

	b := NewBuffer()
	b.Add(KeysFor("g1", []string{"bob"}), Notification{Type: "player_joined"})
	n.Discard(b)
	n.Flush(context.Background(), b)

	assert.Zero(t, b.Len())
	assert.Empty(t, bob.received())
}

func TestDisconnectedChannelIsUnregistered(t *testing.T) {
	r := NewRegistry()
	key := Key{GameID: "g1", PlayerID: "bob"}
	gone := &recordingChannel{err: ErrDisconnected}
	alive := &recordingChannel{}
	r.Register(key, gone)
	r.Register(key, alive)

	d := NewDispatcher(r, discardLogger)
	require.NoError(t, d.Publish(context.Background(), []Key{key}, []byte(`{"type":"turn_created","payload":null}`)))

	assert.Len(t, alive.received(), 1)
	assert.Equal(t, []Channel{alive}, r.Channels(key))
}

func TestRegistryConcurrentWithDelivery(t *testing.T) {
	r := NewRegistry()
	d := NewDispatcher(r, discardLogger)
	key := Key{GameID: "g1", PlayerID: "bob"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch := &recordingChannel{}
			r.Register(key, ch)
			r.Unregister(key, ch)
		}()
		go func() {
			defer wg.Done()
			_ = d.Publish(context.Background(), []Key{key}, []byte(`{}`))
		}()
	}
	wg.Wait()
	assert.Empty(t, r.Channels(key))
}
