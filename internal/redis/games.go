package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/store"
)

const (
	allGamesKey    = "games:all"
	activeGamesKey = "games:active"

	fieldRevision  = "revision"
	fieldDocument  = "document"
	fieldState     = "state"
	fieldUpdatedAt = "updated_at"
)

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// GameStore keeps live games in Redis hashes and detects concurrent
// commits with WATCH/MULTI
type GameStore struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewGameStore creates a game store on top of a connected client
func NewGameStore(client *redis.Client, logger *slog.Logger) *GameStore {
	return &GameStore{client: client, logger: logger, now: time.Now}
}

// Client returns the underlying Redis client
func (s *GameStore) Client() *redis.Client {
	return s.client
}

// Ping checks the connection
func (s *GameStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// gameKey returns the Redis key for a game hash
func gameKey(gameID string) string {
	return fmt.Sprintf("game:%s", gameID)
}

// Begin opens a session
func (s *GameStore) Begin(ctx context.Context) (store.Session, error) {
	return &session{store: s, reads: make(map[string]string)}, nil
}

// Snapshot is a stored game together with its bookkeeping fields
type Snapshot struct {
	Game      *domain.Game
	Revision  string
	UpdatedAt time.Time
}

// GetSnapshot reads a game outside of any session
func (s *GameStore) GetSnapshot(ctx context.Context, gameID string) (*Snapshot, error) {
	vals, err := s.client.HMGet(ctx, gameKey(gameID), fieldRevision, fieldDocument, fieldUpdatedAt).Result()
	if err != nil {
		return nil, fmt.Errorf("reading game %s: %w", gameID, err)
	}
	revision, _ := vals[0].(string)
	document, _ := vals[1].(string)
	if revision == "" || document == "" {
		return nil, store.ErrNotFound
	}
	g, err := store.DecodeGame([]byte(document))
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Game: g, Revision: revision}
	if ts, ok := vals[2].(string); ok {
		snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return snap, nil
}

// GameIDs returns the ids of every stored game
func (s *GameStore) GameIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, allGamesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	return ids, nil
}

// ActiveGameCount returns the number of games that are not finished
func (s *GameStore) ActiveGameCount(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, activeGamesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("counting active games: %w", err)
	}
	return n, nil
}

// Evict removes a game unless it changed since the given revision
func (s *GameStore) Evict(ctx context.Context, gameID, revision string) (bool, error) {
	key := gameKey(gameID)
	evicted := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldRevision).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != revision {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, allGamesKey, gameID)
			pipe.SRem(ctx, activeGamesKey, gameID)
			return nil
		})
		if err == nil {
			evicted = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("evicting game %s: %w", gameID, err)
	}
	return evicted, nil
}

// Restore writes a game back only when no game is stored under its id
func (s *GameStore) Restore(ctx context.Context, g *domain.Game) (bool, error) {
	data, err := store.EncodeGame(g)
	if err != nil {
		return false, err
	}
	key := gameKey(g.ID)
	restored := false
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, g, data, uuid.New().String())
			return nil
		})
		if err == nil {
			restored = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("restoring game %s: %w", g.ID, err)
	}
	return restored, nil
}

func (s *GameStore) write(ctx context.Context, pipe redis.Pipeliner, g *domain.Game, data []byte, revision string) {
	pipe.HSet(ctx, gameKey(g.ID), map[string]any{
		fieldRevision:  revision,
		fieldDocument:  data,
		fieldState:     string(g.State),
		fieldUpdatedAt: s.now().UTC().Format(time.RFC3339Nano),
	})
	pipe.SAdd(ctx, allGamesKey, g.ID)
	if g.State.IsTerminal() {
		pipe.SRem(ctx, activeGamesKey, g.ID)
	} else {
		pipe.SAdd(ctx, activeGamesKey, g.ID)
	}
}

type session struct {
	store *GameStore
	reads map[string]string
}

func (s *session) LoadGame(ctx context.Context, id string) (*domain.Game, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	s.reads[id] = snap.Revision
	return snap.Game, nil
}

func (s *session) Commit(ctx context.Context, games []*domain.Game) error {
	if len(games) == 0 {
		return nil
	}
	keys := make([]string, len(games))
	docs := make([][]byte, len(games))
	for i, g := range games {
		data, err := store.EncodeGame(g)
		if err != nil {
			return err
		}
		keys[i] = gameKey(g.ID)
		docs[i] = data
	}

	revisions := make([]string, len(games))
	err := s.store.client.Watch(ctx, func(tx *redis.Tx) error {
		for i, g := range games {
			current, err := tx.HGet(ctx, keys[i], fieldRevision).Result()
			if err != nil && err != redis.Nil {
				return fmt.Errorf("reading revision of game %s: %w", g.ID, err)
			}
			// games never read in this session must not exist yet
			if current != s.reads[g.ID] {
				return store.ErrConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, g := range games {
				revisions[i] = uuid.New().String()
				s.store.write(ctx, pipe, g, docs[i], revisions[i])
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConflict
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return err
		}
		return fmt.Errorf("committing games: %w", err)
	}
	for i, g := range games {
		s.reads[g.ID] = revisions[i]
	}
	return nil
}

func (s *session) Close() error {
	return nil
}
