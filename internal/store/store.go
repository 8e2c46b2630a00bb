// Package store defines the aggregate store contract used by the use case
// executor.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/timeline-party/internal/domain"
)

var (
	// ErrConflict signals that a game changed since it was read
	ErrConflict = errors.New("store: conflicting write")
	// ErrNotFound signals that no game exists under the id
	ErrNotFound = errors.New("store: game not found")
)

// Store opens sessions against the aggregate store
type Store interface {
	Begin(ctx context.Context) (Session, error)
}

// Session is a transactional scope. Every game loaded through it is
// checked for concurrent modification on Commit.
type Session interface {
	// LoadGame returns a private copy of the game and remembers the revision read
	LoadGame(ctx context.Context, id string) (*domain.Game, error)
	// Commit writes all games atomically, or none with ErrConflict
	Commit(ctx context.Context, games []*domain.Game) error
	Close() error
}

// EncodeGame serializes a game document
func EncodeGame(g *domain.Game) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encoding game %s: %w", g.ID, err)
	}
	return data, nil
}

// DecodeGame deserializes a game document
func DecodeGame(data []byte) (*domain.Game, error) {
	var g domain.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decoding game: %w", err)
	}
	return &g, nil
}
