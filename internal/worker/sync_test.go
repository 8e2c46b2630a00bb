package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/postgres"
	"github.com/timeline-party/internal/redis"
)

type fakeArchive struct {
	mu         sync.Mutex
	batches    [][]postgres.ArchivedGame
	unfinished []*domain.Game
	err        error
}

func (f *fakeArchive) ArchiveGames(_ context.Context, games []postgres.ArchivedGame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, games)
	return nil
}

func (f *fakeArchive) ListUnfinished(context.Context) ([]*domain.Game, error) {
	return f.unfinished, f.err
}

func (f *fakeArchive) archivedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, b := range f.batches {
		for _, a := range b {
			ids = append(ids, a.Game.ID)
		}
	}
	return ids
}

type SyncWorkerTestSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	client  *goredis.Client
	live    *redis.GameStore
	archive *fakeArchive
	cfg     *config.SyncConfig
	worker  *SyncWorker
}

func (s *SyncWorkerTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.client = goredis.NewClient(&goredis.Options{Addr: s.mr.Addr()})
	s.live = redis.NewGameStore(s.client, logger)
	s.archive = &fakeArchive{}
	s.cfg = &config.SyncConfig{Interval: 10 * time.Millisecond, BatchSize: 2, Retention: time.Hour}
	s.worker = NewSyncWorker(s.live, s.archive, s.cfg, logger)
}

func (s *SyncWorkerTestSuite) TearDownTest() {
	s.client.Close()
	s.mr.Close()
}

func TestSyncWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(SyncWorkerTestSuite))
}

func (s *SyncWorkerTestSuite) newGame(id string) *domain.Game {
	g, err := domain.NewGame(id, "alice", domain.GameSettings{
		PlaylistIDs:                []string{"p"},
		InitialTokens:              2,
		MaxTokens:                  5,
		TimelineTarget:             10,
		ArtistMatchMode:            domain.ArtistMatchAll,
		TitleMatchMode:             domain.TitleMatchMain,
		CreditsSimilarityThreshold: 0.8,
	}, time.Now())
	s.Require().NoError(err)
	return g
}

func (s *SyncWorkerTestSuite) save(games ...*domain.Game) {
	ctx := context.Background()
	sess, err := s.live.Begin(ctx)
	s.Require().NoError(err)
	defer sess.Close()
	s.Require().NoError(sess.Commit(ctx, games))
}

func (s *SyncWorkerTestSuite) TestRunOnceArchivesInBatches() {
	s.save(s.newGame("g1"), s.newGame("g2"), s.newGame("g3"))

	stats := s.worker.RunOnce(context.Background())

	s.Equal(3, stats.Archived)
	s.Zero(stats.Errors)
	s.Len(s.archive.batches, 2)
	s.ElementsMatch([]string{"g1", "g2", "g3"}, s.archive.archivedIDs())
}

func (s *SyncWorkerTestSuite) TestFinishedGamesAreEvictedAfterRetention() {
	running := s.newGame("running")
	aborted := s.newGame("aborted")
	s.Require().NoError(aborted.Abort("alice"))
	s.save(running, aborted)

	stats := s.worker.RunOnce(context.Background())
	s.Zero(stats.Evicted)

	s.worker.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stats = s.worker.RunOnce(context.Background())
	s.Equal(1, stats.Evicted)

	ids, err := s.live.GameIDs(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"running"}, ids)
}

func (s *SyncWorkerTestSuite) TestArchiveFailureKeepsGames() {
	aborted := s.newGame("aborted")
	s.Require().NoError(aborted.Abort("alice"))
	s.save(aborted)
	s.archive.err = errors.New("database down")
	s.worker.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	stats := s.worker.RunOnce(context.Background())

	s.Equal(1, stats.Errors)
	s.Zero(stats.Evicted)
	ids, err := s.live.GameIDs(context.Background())
	s.Require().NoError(err)
	s.Equal([]string{"aborted"}, ids)
}

func (s *SyncWorkerTestSuite) TestRestoreUnfinishedSkipsLiveGames() {
	live := s.newGame("live")
	s.save(live)
	s.archive.unfinished = []*domain.Game{s.newGame("live"), s.newGame("archived")}

	restored, err := s.worker.RestoreUnfinished(context.Background())
	s.Require().NoError(err)
	s.Equal(1, restored)

	snap, err := s.live.GetSnapshot(context.Background(), "archived")
	s.Require().NoError(err)
	s.Equal(domain.GameStateWaitingForPlayers, snap.Game.State)
}

func (s *SyncWorkerTestSuite) TestStartStop() {
	s.save(s.newGame("g1"))

	s.Require().NoError(s.worker.Start(context.Background()))
	s.True(s.worker.IsRunning())
	s.Eventually(func() bool { return len(s.archive.archivedIDs()) > 0 }, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.worker.Stop())
	s.False(s.worker.IsRunning())
	s.NoError(s.worker.Stop())
}
