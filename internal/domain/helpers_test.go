package domain

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

func intPtr(v int) *int { return &v }

func testTrack(id string, year int) Track {
	return Track{ID: id, Title: "Song " + id, Artists: []string{"Artist " + id}, ReleaseYear: year}
}

func testSettings() GameSettings {
	return GameSettings{
		PlaylistIDs:                []string{"playlist-1"},
		Market:                     "DE",
		InitialTokens:              2,
		MaxTokens:                  5,
		TimelineTarget:             10,
		GuessTimeout:               time.Minute,
		ArtistMatchMode:            ArtistMatchAll,
		TitleMatchMode:             TitleMatchMain,
		CreditsSimilarityThreshold: 0.8,
	}
}

// appendRand always joins new players at the end of the order
type appendRand struct{}

func (appendRand) Intn(n int) int { return n - 1 }

// pickFrom returns the first catalog track that is not excluded
func pickFrom(tracks ...Track) TrackPicker {
	return func(exclude []string) (Track, error) {
		for _, t := range tracks {
			if !slices.Contains(exclude, t.ID) {
				return t, nil
			}
		}
		return Track{}, ErrPlaylistsExhausted
	}
}

// newStartedGame builds a started game whose players own one starting
// track each, dated 1970, 1990, 2010, ...
func newStartedGame(t *testing.T, settings GameSettings, players ...string) *Game {
	t.Helper()
	g, err := NewGame("game-1", players[0], settings, t0)
	require.NoError(t, err)
	for _, p := range players[1:] {
		_, err := g.Join(p, appendRand{})
		require.NoError(t, err)
	}

	starting := make([]Track, len(players))
	for i := range players {
		starting[i] = testTrack(fmt.Sprintf("start-%d", i), 1970+20*i)
	}
	require.NoError(t, g.Start(players[0], pickFrom(starting...)))
	return g
}

// newGuessingGame starts a game and opens a first turn on a 1980 track.
// The first player is active and owns a single 1970 track.
func newGuessingGame(t *testing.T, settings GameSettings, players ...string) (*Game, *Turn) {
	t.Helper()
	g := newStartedGame(t, settings, players...)
	_, turn, err := g.CreateTurn(players[0], "rev-1", pickFrom(testTrack("turn-1", 1980)), t0)
	require.NoError(t, err)
	return g, turn
}

func tokensOf(g *Game) map[string]int {
	out := make(map[string]int, len(g.Players))
	for _, p := range g.Players {
		out[p.UserID] = p.Tokens
	}
	return out
}

func mustPlayer(t *testing.T, g *Game, id string) *Player {
	t.Helper()
	p, ok := g.Player(id)
	require.True(t, ok, "player %s", id)
	return p
}
