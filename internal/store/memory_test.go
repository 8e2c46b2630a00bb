package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeline-party/internal/domain"
)

func newGame(t *testing.T, id string) *domain.Game {
	t.Helper()
	g, err := domain.NewGame(id, "alice", domain.GameSettings{
		PlaylistIDs:                []string{"p"},
		InitialTokens:              2,
		MaxTokens:                  5,
		TimelineTarget:             10,
		ArtistMatchMode:            domain.ArtistMatchOne,
		TitleMatchMode:             domain.TitleMatchFull,
		CreditsSimilarityThreshold: 0.9,
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return g
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.LoadGame(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotFound)

	g := newGame(t, "g1")
	require.NoError(t, sess.Commit(ctx, []*domain.Game{g}))
	require.NotEmpty(t, s.Revision("g1"))

	sess, err = s.Begin(ctx)
	require.NoError(t, err)
	loaded, err := sess.LoadGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, g, loaded)
}

func TestMemoryStoreDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess, _ := s.Begin(ctx)
	require.NoError(t, sess.Commit(ctx, []*domain.Game{newGame(t, "g1")}))

	first, _ := s.Begin(ctx)
	second, _ := s.Begin(ctx)
	a, err := first.LoadGame(ctx, "g1")
	require.NoError(t, err)
	b, err := second.LoadGame(ctx, "g1")
	require.NoError(t, err)

	_, err = a.Join("bob", fixedRand{})
	require.NoError(t, err)
	_, err = b.Join("carol", fixedRand{})
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx, []*domain.Game{a}))
	assert.ErrorIs(t, second.Commit(ctx, []*domain.Game{b}), ErrConflict)

	// a second create under an existing id conflicts as well
	fresh, _ := s.Begin(ctx)
	assert.ErrorIs(t, fresh.Commit(ctx, []*domain.Game{newGame(t, "g1")}), ErrConflict)

	check, _ := s.Begin(ctx)
	stored, err := check.LoadGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, stored.PlayerIDs())
}

type fixedRand struct{}

func (fixedRand) Intn(n int) int { return n - 1 }
