package domain

import (
	"slices"
	"sort"
	"time"
)

// GameState represents the lifecycle state of a game
type GameState string

const (
	GameStateWaitingForPlayers GameState = "WAITING_FOR_PLAYERS"
	GameStateStarted           GameState = "STARTED"
	GameStateGuessing          GameState = "GUESSING"
	GameStateScoring           GameState = "SCORING"
	GameStateCompleted         GameState = "COMPLETED"
	GameStateAborted           GameState = "ABORTED"
)

// IsTerminal reports whether no further transitions are possible
func (s GameState) IsTerminal() bool {
	return s == GameStateCompleted || s == GameStateAborted
}

// ArtistMatchMode controls how guessed artists are compared
type ArtistMatchMode string

const (
	ArtistMatchAll ArtistMatchMode = "ALL"
	ArtistMatchOne ArtistMatchMode = "ONE"
)

// TitleMatchMode controls how guessed titles are compared
type TitleMatchMode string

const (
	TitleMatchFull TitleMatchMode = "FULL"
	TitleMatchMain TitleMatchMode = "MAIN"
)

// Token economy
const (
	TokenCostGuess         = 1
	TokenCostBuyTrack      = 3
	TokenCostExchangeTrack = 1

	TokenGainPositionGuess = 0
	TokenGainYearGuess     = 1
	TokenGainCreditsGuess  = 1
)

// GameSettings holds the immutable settings of a game
type GameSettings struct {
	PlaylistIDs                []string        `json:"playlist_ids"`
	Market                     string          `json:"market"`
	InitialTokens              int             `json:"initial_tokens"`
	MaxTokens                  int             `json:"max_tokens"`
	TimelineTarget             int             `json:"timeline_target"`
	GuessTimeout               time.Duration   `json:"guess_timeout"`
	ArtistMatchMode            ArtistMatchMode `json:"artist_match_mode"`
	TitleMatchMode             TitleMatchMode  `json:"title_match_mode"`
	CreditsSimilarityThreshold float64         `json:"credits_similarity_threshold"`
}

// Validate checks the settings for consistency
func (s GameSettings) Validate() error {
	switch {
	case len(s.PlaylistIDs) == 0:
		return ErrInvalidSettings.WithDetails(map[string]any{"field": "playlist_ids"})
	case s.InitialTokens < 0 || s.MaxTokens < s.InitialTokens:
		return ErrInvalidSettings.WithDetails(map[string]any{"field": "tokens"})
	case s.TimelineTarget < 1:
		return ErrInvalidSettings.WithDetails(map[string]any{"field": "timeline_target"})
	case s.GuessTimeout < 0:
		return ErrInvalidSettings.WithDetails(map[string]any{"field": "guess_timeout"})
	case s.ArtistMatchMode != ArtistMatchAll && s.ArtistMatchMode != ArtistMatchOne:
		return ErrInvalidSettings.WithDetails(map[string]any{"field": "artist_match_mode"})
	case s.TitleMatchMode != TitleMatchFull && s.TitleMatchMode != TitleMatchMain:
		return ErrInvalidSettings.WithDetails(map[string]any{"field": "title_match_mode"})
	case s.CreditsSimilarityThreshold <= 0 || s.CreditsSimilarityThreshold > 1:
		return ErrInvalidSettings.WithDetails(map[string]any{"field": "credits_similarity_threshold"})
	}
	return nil
}

// Track is an immutable catalog entry
type Track struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Artists     []string `json:"artists"`
	ReleaseYear int      `json:"release_year"`
	ArtworkURL  string   `json:"artwork_url,omitempty"`
}

// Player is a member of a game
type Player struct {
	UserID     string  `json:"user_id"`
	GameMaster bool    `json:"game_master"`
	Tokens     int     `json:"tokens"`
	Timeline   []Track `json:"timeline"`
}

// insertTrack places a track into the timeline keeping it sorted by year.
// Tracks of the same year keep their arrival order.
func (p *Player) insertTrack(track Track) {
	idx := sort.Search(len(p.Timeline), func(i int) bool {
		return p.Timeline[i].ReleaseYear > track.ReleaseYear
	})
	p.Timeline = slices.Insert(p.Timeline, idx, track)
}

// removeTrack strips every occurrence of the track from the timeline
func (p *Player) removeTrack(trackID string) bool {
	before := len(p.Timeline)
	p.Timeline = slices.DeleteFunc(p.Timeline, func(t Track) bool { return t.ID == trackID })
	return len(p.Timeline) != before
}

// Game is the aggregate root and the unit of concurrency control
type Game struct {
	ID                string       `json:"id"`
	CreatedAt         time.Time    `json:"created_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	Settings          GameSettings `json:"settings"`
	State             GameState    `json:"state"`
	Turns             []*Turn      `json:"turns"`
	Players           []*Player    `json:"players"`
	DiscardedTrackIDs []string     `json:"discarded_track_ids"`
}

// Player returns the player with the given user id
func (g *Game) Player(userID string) (*Player, bool) {
	idx := g.playerIndex(userID)
	if idx < 0 {
		return nil, false
	}
	return g.Players[idx], true
}

func (g *Game) playerIndex(userID string) int {
	return slices.IndexFunc(g.Players, func(p *Player) bool { return p.UserID == userID })
}

// PlayerIDs returns the user ids in player order
func (g *Game) PlayerIDs() []string {
	ids := make([]string, len(g.Players))
	for i, p := range g.Players {
		ids[i] = p.UserID
	}
	return ids
}

// OtherPlayerIDs returns every player id except the given one
func (g *Game) OtherPlayerIDs(userID string) []string {
	ids := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		if p.UserID != userID {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// ActiveTurn returns the last turn, which is the only mutable one
func (g *Game) ActiveTurn() (*Turn, bool) {
	if len(g.Turns) == 0 {
		return nil, false
	}
	return g.Turns[len(g.Turns)-1], true
}

// IsActiveTurn reports whether the turn id designates the last turn
func (g *Game) IsActiveTurn(turnID int) bool {
	return turnID >= 0 && turnID == len(g.Turns)-1
}

// ExcludedTrackIDs lists every track that must never be offered again
func (g *Game) ExcludedTrackIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, p := range g.Players {
		for _, t := range p.Timeline {
			add(t.ID)
		}
	}
	for _, t := range g.Turns {
		add(t.Track.ID)
	}
	for _, id := range g.DiscardedTrackIDs {
		add(id)
	}
	return ids
}

func (g *Game) requirePlayer(userID string) (*Player, error) {
	p, ok := g.Player(userID)
	if !ok {
		return nil, ErrNotAPlayer
	}
	return p, nil
}

func (g *Game) requireGameMaster(userID string) (*Player, error) {
	p, err := g.requirePlayer(userID)
	if err != nil {
		return nil, err
	}
	if !p.GameMaster {
		return nil, ErrNotGameMaster
	}
	return p, nil
}

func (g *Game) requireState(states ...GameState) error {
	if !slices.Contains(states, g.State) {
		return ErrInvalidState.WithDetails(map[string]any{"state": g.State})
	}
	return nil
}

// requireActiveTurn checks the turn id against the last turn
func (g *Game) requireActiveTurn(turnID int) (*Turn, error) {
	if !g.IsActiveTurn(turnID) {
		return nil, ErrInactiveTurn
	}
	return g.Turns[turnID], nil
}

// TimelinesSorted reports whether every timeline is ordered by release year
func (g *Game) TimelinesSorted() bool {
	for _, p := range g.Players {
		if !slices.IsSortedFunc(p.Timeline, func(a, b Track) int { return a.ReleaseYear - b.ReleaseYear }) {
			return false
		}
	}
	return true
}
