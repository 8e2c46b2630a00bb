package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/notify"
	"github.com/timeline-party/internal/store"
	"github.com/timeline-party/internal/tracks"
)

// DB is the part of the pool the repository needs
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository provides PostgreSQL-based data access
type Repository struct {
	db     DB
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{db: pool, pool: pool, logger: logger}, nil
}

// NewRepositoryWithDB wraps an existing connection, a pool or a transaction
func NewRepositoryWithDB(db DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS game_archive (
			id VARCHAR(64) PRIMARY KEY,
			state VARCHAR(32) NOT NULL,
			revision VARCHAR(64) NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			archived_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_events (
			id BIGSERIAL PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL,
			actor_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id VARCHAR(64) PRIMARY KEY,
			title TEXT NOT NULL,
			artists TEXT[] NOT NULL,
			release_year INT NOT NULL,
			artwork_url TEXT NOT NULL DEFAULT '',
			markets TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS playlist_tracks (
			playlist_id VARCHAR(64) NOT NULL,
			track_id VARCHAR(64) NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
			PRIMARY KEY (playlist_id, track_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_archive_state ON game_archive(state)`,
		`CREATE INDEX IF NOT EXISTS idx_game_events_game ON game_events(game_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// ArchivedGame is a game document as copied from the live store
type ArchivedGame struct {
	Game     *domain.Game
	Revision string
}

const archiveGameQuery = `
	INSERT INTO game_archive (id, state, revision, document, created_at, completed_at, archived_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE
	SET state = EXCLUDED.state,
		revision = EXCLUDED.revision,
		document = EXCLUDED.document,
		completed_at = EXCLUDED.completed_at,
		archived_at = EXCLUDED.archived_at
	WHERE game_archive.revision <> EXCLUDED.revision
`

// ArchiveGames upserts game documents, skipping unchanged revisions
func (r *Repository) ArchiveGames(ctx context.Context, games []ArchivedGame) error {
	if len(games) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, a := range games {
		data, err := store.EncodeGame(a.Game)
		if err != nil {
			return err
		}
		batch.Queue(archiveGameQuery,
			a.Game.ID,
			string(a.Game.State),
			a.Revision,
			data,
			a.Game.CreatedAt,
			a.Game.CompletedAt,
			now,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range games {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch archiving games: %w", err)
		}
	}
	return nil
}

// ListUnfinished returns the archived games that can still change
func (r *Repository) ListUnfinished(ctx context.Context) ([]*domain.Game, error) {
	rows, err := r.db.Query(ctx, `
		SELECT document
		FROM game_archive
		WHERE state NOT IN ($1, $2)
		ORDER BY created_at
	`, string(domain.GameStateCompleted), string(domain.GameStateAborted))
	if err != nil {
		return nil, fmt.Errorf("listing unfinished games: %w", err)
	}
	defer rows.Close()

	var games []*domain.Game
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		g, err := store.DecodeGame(doc)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// GetArchivedGame returns an archived game by id
func (r *Repository) GetArchivedGame(ctx context.Context, gameID string) (*domain.Game, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT document FROM game_archive WHERE id = $1`, gameID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting archived game: %w", err)
	}
	return store.DecodeGame(doc)
}

// AppendEvents records the notifications of one committed use case
func (r *Repository) AppendEvents(ctx context.Context, gameID, actorID string, events []notify.Notification, at time.Time) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO game_events (game_id, actor_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encoding %s event: %w", e.Type, err)
		}
		batch.Queue(query, gameID, actorID, e.Type, payload, at)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch inserting events: %w", err)
		}
	}
	return nil
}

// GameEvent is a logged notification
type GameEvent struct {
	ID        int64           `json:"id"`
	GameID    string          `json:"game_id"`
	ActorID   string          `json:"actor_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListEvents returns the logged events of a game in order
func (r *Repository) ListEvents(ctx context.Context, gameID string, limit int) ([]GameEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, game_id, actor_id, event_type, payload, created_at
		FROM game_events
		WHERE game_id = $1
		ORDER BY id
		LIMIT $2
	`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []GameEvent
	for rows.Next() {
		var e GameEvent
		if err := rows.Scan(&e.ID, &e.GameID, &e.ActorID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RandomTrack implements tracks.Provider over the tracks table
func (r *Repository) RandomTrack(ctx context.Context, playlistIDs []string, market string, exclude []string) (*domain.Track, error) {
	if exclude == nil {
		exclude = []string{}
	}
	var t domain.Track
	err := r.db.QueryRow(ctx, `
		SELECT t.id, t.title, t.artists, t.release_year, t.artwork_url
		FROM tracks t
		WHERE t.id IN (SELECT track_id FROM playlist_tracks WHERE playlist_id = ANY($1))
		  AND NOT (t.id = ANY($2))
		  AND ($3 = '' OR cardinality(t.markets) = 0 OR $3 = ANY(t.markets))
		ORDER BY random()
		LIMIT 1
	`, playlistIDs, exclude, market).Scan(&t.ID, &t.Title, &t.Artists, &t.ReleaseYear, &t.ArtworkURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tracks.ErrExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("picking random track: %w", err)
	}
	return &t, nil
}

// UpsertCatalog writes every playlist track of the catalog and returns the
// number of rows queued
func (r *Repository) UpsertCatalog(ctx context.Context, catalog *tracks.Catalog) (int, error) {
	batch := &pgx.Batch{}
	trackQuery := `
		INSERT INTO tracks (id, title, artists, release_year, artwork_url, markets)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
			artists = EXCLUDED.artists,
			release_year = EXCLUDED.release_year,
			artwork_url = EXCLUDED.artwork_url,
			markets = EXCLUDED.markets
	`
	linkQuery := `
		INSERT INTO playlist_tracks (playlist_id, track_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	for _, p := range catalog.Playlists {
		for _, t := range p.Tracks {
			markets := t.Markets
			if markets == nil {
				markets = []string{}
			}
			batch.Queue(trackQuery, t.ID, t.Title, t.Artists, t.ReleaseYear, t.ArtworkURL, markets)
			batch.Queue(linkQuery, p.ID, t.ID)
		}
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("batch upserting catalog: %w", err)
		}
	}
	return batch.Len(), nil
}
