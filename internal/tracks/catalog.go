package tracks

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timeline-party/internal/domain"
)

// CatalogTrack is a track entry of the catalog file
type CatalogTrack struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Artists     []string `yaml:"artists"`
	ReleaseYear int      `yaml:"release_year"`
	ArtworkURL  string   `yaml:"artwork_url"`
	Markets     []string `yaml:"markets"`
}

// Track converts the entry to a domain track
func (t CatalogTrack) Track() domain.Track {
	return domain.Track{
		ID:          t.ID,
		Title:       t.Title,
		Artists:     slices.Clone(t.Artists),
		ReleaseYear: t.ReleaseYear,
		ArtworkURL:  t.ArtworkURL,
	}
}

// AvailableIn reports whether the track can be played in the market.
// Tracks without markets are available everywhere.
func (t CatalogTrack) AvailableIn(market string) bool {
	return market == "" || len(t.Markets) == 0 || slices.Contains(t.Markets, market)
}

// Playlist is a named list of tracks
type Playlist struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	Tracks []CatalogTrack `yaml:"tracks"`
}

// Catalog is the content of a catalog file
type Catalog struct {
	Playlists []Playlist `yaml:"playlists"`
}

// LoadCatalog reads a catalog from a YAML file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for _, p := range c.Playlists {
		if p.ID == "" {
			return nil, fmt.Errorf("playlist without id")
		}
		for _, t := range p.Tracks {
			if t.ID == "" || t.Title == "" || len(t.Artists) == 0 {
				return nil, fmt.Errorf("playlist %s: track %q is incomplete", p.ID, t.ID)
			}
			if t.ReleaseYear < domain.MinReleaseYear || t.ReleaseYear > domain.MaxReleaseYear {
				return nil, fmt.Errorf("playlist %s: track %s has invalid release year %d", p.ID, t.ID, t.ReleaseYear)
			}
		}
	}
	return &c, nil
}

// Playlist returns the playlist with the given id
func (c *Catalog) Playlist(id string) (Playlist, bool) {
	i := slices.IndexFunc(c.Playlists, func(p Playlist) bool { return p.ID == id })
	if i < 0 {
		return Playlist{}, false
	}
	return c.Playlists[i], true
}

// CatalogProvider serves random tracks from an in-memory catalog
type CatalogProvider struct {
	catalog *Catalog

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewCatalogProvider creates a provider over the catalog
func NewCatalogProvider(catalog *Catalog, seed int64) *CatalogProvider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &CatalogProvider{catalog: catalog, rnd: rand.New(rand.NewSource(seed))}
}

// RandomTrack picks uniformly among the remaining tracks of the playlists
func (p *CatalogProvider) RandomTrack(ctx context.Context, playlistIDs []string, market string, exclude []string) (*domain.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var candidates []CatalogTrack
	for _, id := range playlistIDs {
		playlist, ok := p.catalog.Playlist(id)
		if !ok {
			continue
		}
		for _, t := range playlist.Tracks {
			if _, skip := excluded[t.ID]; skip || !t.AvailableIn(market) {
				continue
			}
			// the same track may appear in several playlists
			excluded[t.ID] = struct{}{}
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrExhausted
	}

	p.mu.Lock()
	picked := candidates[p.rnd.Intn(len(candidates))]
	p.mu.Unlock()

	track := picked.Track()
	return &track, nil
}
