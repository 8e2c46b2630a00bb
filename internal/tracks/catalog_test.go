package tracks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeline-party/internal/domain"
)

const testCatalog = `
playlists:
  - id: eighties
    name: Eighties
    tracks:
      - id: t1
        title: Take On Me
        artists: [a-ha]
        release_year: 1985
      - id: t2
        title: Billie Jean
        artists: [Michael Jackson]
        release_year: 1982
        markets: [US]
  - id: nineties
    tracks:
      - id: t1
        title: Take On Me
        artists: [a-ha]
        release_year: 1985
      - id: t3
        title: Wonderwall
        artists: [Oasis]
        release_year: 1995
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	require.Len(t, c.Playlists, 2)

	p, ok := c.Playlist("eighties")
	require.True(t, ok)
	assert.Equal(t, "Eighties", p.Name)
	assert.Equal(t, domain.Track{ID: "t2", Title: "Billie Jean", Artists: []string{"Michael Jackson"}, ReleaseYear: 1982},
		p.Tracks[1].Track())

	_, err = ParseCatalog([]byte("playlists:\n  - id: x\n    tracks:\n      - id: t\n        title: T\n        artists: [A]\n        release_year: 99\n"))
	assert.Error(t, err)
}

func TestCatalogProviderRandomTrack(t *testing.T) {
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	p := NewCatalogProvider(c, 7)
	ctx := context.Background()

	track, err := p.RandomTrack(ctx, []string{"eighties", "nineties"}, "DE", []string{"t1"})
	require.NoError(t, err)
	assert.Equal(t, "t3", track.ID, "t2 is not available in DE")

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		track, err := p.RandomTrack(ctx, []string{"eighties"}, "US", nil)
		require.NoError(t, err)
		seen[track.ID] = true
	}
	assert.Equal(t, map[string]bool{"t1": true, "t2": true}, seen)

	_, err = p.RandomTrack(ctx, []string{"nineties", "unknown"}, "", []string{"t1", "t3"})
	assert.ErrorIs(t, err, ErrExhausted)
}

type stubProvider struct {
	track *domain.Track
	err   error
}

func (s stubProvider) RandomTrack(context.Context, []string, string, []string) (*domain.Track, error) {
	return s.track, s.err
}

func TestPickerMapsExhaustion(t *testing.T) {
	settings := domain.GameSettings{PlaylistIDs: []string{"p"}}

	_, err := Picker(context.Background(), stubProvider{err: ErrExhausted}, settings)(nil)
	assert.ErrorIs(t, err, domain.ErrPlaylistsExhausted)

	track, err := Picker(context.Background(), stubProvider{track: &domain.Track{ID: "x"}}, settings)(nil)
	require.NoError(t, err)
	assert.Equal(t, "x", track.ID)
}
