// Package sse streams game notifications as server-sent events.
package sse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/timeline-party/internal/notify"
)

const (
	bufferSize = 64

	// Comment lines keep idle proxies from closing the stream
	keepAlive = 25 * time.Second
)

// Stream is the server-sent events channel of one player in one game
type Stream struct {
	messages chan []byte
	done     chan struct{}
	once     sync.Once
}

func newStream() *Stream {
	return &Stream{
		messages: make(chan []byte, bufferSize),
		done:     make(chan struct{}),
	}
}

// Send queues a notification for the stream
func (s *Stream) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.done:
		return notify.ErrDisconnected
	default:
	}
	select {
	case s.messages <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.close()
		return notify.ErrDisconnected
	}
}

func (s *Stream) close() {
	s.once.Do(func() { close(s.done) })
}

// Serve holds the request open and writes every notification of the key
// until the client goes away
func Serve(w http.ResponseWriter, r *http.Request, registry *notify.Registry, key notify.Key, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := newStream()
	registry.Register(key, stream)
	defer func() {
		registry.Unregister(key, stream)
		stream.close()
	}()
	logger.Debug("SSE client connected", "game_id", key.GameID, "player_id", key.PlayerID)

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("SSE client disconnected", "game_id", key.GameID, "player_id", key.PlayerID)
			return
		case <-stream.done:
			return
		case msg := <-stream.messages:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
