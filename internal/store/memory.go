package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/timeline-party/internal/domain"
)

type record struct {
	revision string
	data     []byte
}

// MemoryStore keeps game documents in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]record)}
}

// Begin opens a session
func (s *MemoryStore) Begin(ctx context.Context) (Session, error) {
	return &memorySession{store: s, reads: make(map[string]string)}, ctx.Err()
}

// Revision returns the current revision of a game, empty if absent
func (s *MemoryStore) Revision(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.games[id].revision
}

type memorySession struct {
	store *MemoryStore
	reads map[string]string
}

func (s *memorySession) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	s.store.mu.RLock()
	rec, ok := s.store.games[id]
	s.store.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	g, err := DecodeGame(rec.data)
	if err != nil {
		return nil, err
	}
	s.reads[id] = rec.revision
	return g, nil
}

func (s *memorySession) Commit(ctx context.Context, games []*domain.Game) error {
	docs := make([][]byte, len(games))
	for i, g := range games {
		data, err := EncodeGame(g)
		if err != nil {
			return err
		}
		docs[i] = data
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	for _, g := range games {
		// games never read must not exist yet
		if s.store.games[g.ID].revision != s.reads[g.ID] {
			return ErrConflict
		}
	}
	for i, g := range games {
		revision := uuid.New().String()
		s.store.games[g.ID] = record{revision: revision, data: docs[i]}
		s.reads[g.ID] = revision
	}
	return nil
}

func (s *memorySession) Close() error {
	return nil
}
