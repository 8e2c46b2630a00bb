package service

import (
	"time"

	"github.com/timeline-party/internal/domain"
)

// PlayerView is the public projection of a player
type PlayerView struct {
	UserID     string         `json:"user_id"`
	GameMaster bool           `json:"game_master"`
	Tokens     int            `json:"tokens"`
	Timeline   []domain.Track `json:"timeline"`
}

// TurnView is the public projection of a turn. The track stays hidden until
// the turn is scored.
type TurnView struct {
	ID                 int                                `json:"id"`
	RevisionID         string                             `json:"revision_id"`
	CreatedAt          time.Time                          `json:"created_at"`
	ActivePlayerID     string                             `json:"active_player_id"`
	Track              *domain.Track                      `json:"track,omitempty"`
	ReleaseYearGuesses map[string]domain.ReleaseYearGuess `json:"release_year_guesses"`
	CreditsGuesses     map[string]domain.CreditsGuess     `json:"credits_guesses"`
	Passes             []string                           `json:"passes"`
	Scoring            *domain.TurnScoring                `json:"scoring,omitempty"`
	CorrectionProposal *domain.CorrectionProposal         `json:"correction_proposal,omitempty"`
	CompletedBy        []string                           `json:"completed_by"`
}

// GameView is the public projection of a game
type GameView struct {
	ID          string              `json:"id"`
	State       domain.GameState    `json:"state"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Settings    domain.GameSettings `json:"settings"`
	Players     []PlayerView        `json:"players"`
	TurnCount   int                 `json:"turn_count"`
	ActiveTurn  *TurnView           `json:"active_turn,omitempty"`
	Winner      *string             `json:"winner,omitempty"`
}

// NewTurnView projects a turn
func NewTurnView(id int, t *domain.Turn) *TurnView {
	v := &TurnView{
		ID:                 id,
		RevisionID:         t.RevisionID,
		CreatedAt:          t.CreatedAt,
		ActivePlayerID:     t.ActivePlayerID,
		ReleaseYearGuesses: t.ReleaseYearGuesses,
		CreditsGuesses:     t.CreditsGuesses,
		Passes:             make([]string, 0, len(t.Passes)),
		Scoring:            t.Scoring,
		CorrectionProposal: t.CorrectionProposal,
		CompletedBy:        t.CompletedBy,
	}
	if t.Scoring != nil {
		track := t.Track
		v.Track = &track
	}
	for id := range t.Passes {
		v.Passes = append(v.Passes, id)
	}
	return v
}

// NewGameView projects a game
func NewGameView(g *domain.Game) *GameView {
	v := &GameView{
		ID:          g.ID,
		State:       g.State,
		CreatedAt:   g.CreatedAt,
		CompletedAt: g.CompletedAt,
		Settings:    g.Settings,
		Players:     make([]PlayerView, len(g.Players)),
		TurnCount:   len(g.Turns),
	}
	for i, p := range g.Players {
		v.Players[i] = PlayerView{
			UserID:     p.UserID,
			GameMaster: p.GameMaster,
			Tokens:     p.Tokens,
			Timeline:   p.Timeline,
		}
	}
	if turn, ok := g.ActiveTurn(); ok {
		v.ActiveTurn = NewTurnView(len(g.Turns)-1, turn)
	}
	if g.State == domain.GameStateCompleted {
		best := -1
		for _, p := range g.Players {
			if len(p.Timeline) > best {
				best = len(p.Timeline)
				id := p.UserID
				v.Winner = &id
			}
		}
	}
	return v
}
