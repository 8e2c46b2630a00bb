// Package tracks hands out random catalog tracks to running games.
package tracks

import (
	"context"
	"errors"

	"github.com/timeline-party/internal/domain"
)

// ErrExhausted is returned when every track of the playlists was excluded
var ErrExhausted = errors.New("no track left in playlists")

//go:generate mockgen -package=mocks -destination=mocks/mock_provider.go github.com/timeline-party/internal/tracks Provider
type Provider interface {
	// RandomTrack returns a track of one of the playlists whose id is not in exclude
	RandomTrack(ctx context.Context, playlistIDs []string, market string, exclude []string) (*domain.Track, error)
}

// Picker adapts a provider to the engine's track picker for one game.
// Exhaustion is reported as a business error.
func Picker(ctx context.Context, p Provider, settings domain.GameSettings) domain.TrackPicker {
	return func(exclude []string) (domain.Track, error) {
		track, err := p.RandomTrack(ctx, settings.PlaylistIDs, settings.Market, exclude)
		if errors.Is(err, ErrExhausted) {
			return domain.Track{}, domain.ErrPlaylistsExhausted
		}
		if err != nil {
			return domain.Track{}, err
		}
		return *track, nil
	}
}
