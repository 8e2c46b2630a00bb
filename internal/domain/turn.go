package domain

import (
	"cmp"
	"slices"
	"time"
)

// Guess is one of ReleaseYearGuess or CreditsGuess
type Guess interface {
	isGuess()
	SubmittedAt() time.Time
}

// ReleaseYearGuess places the track in the active player's timeline and
// optionally names the exact year
type ReleaseYearGuess struct {
	Position  int       `json:"position"`
	Year      *int      `json:"year,omitempty"`
	TokenCost int       `json:"token_cost"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditsGuess names the artists and the title of the track
type CreditsGuess struct {
	Artists   []string  `json:"artists"`
	Title     string    `json:"title"`
	TokenCost int       `json:"token_cost"`
	CreatedAt time.Time `json:"created_at"`
}

func (ReleaseYearGuess) isGuess()                 {}
func (g ReleaseYearGuess) SubmittedAt() time.Time { return g.CreatedAt }

func (CreditsGuess) isGuess()                 {}
func (g CreditsGuess) SubmittedAt() time.Time { return g.CreatedAt }

// Pass records a player giving up on guessing the turn
type Pass struct {
	CreatedAt time.Time `json:"created_at"`
}

// CorrectionState is the voting state of a correction proposal
type CorrectionState string

const (
	CorrectionVoting   CorrectionState = "VOTING"
	CorrectionAccepted CorrectionState = "ACCEPTED"
	CorrectionRejected CorrectionState = "REJECTED"
)

// Vote is a player's opinion on a correction proposal
type Vote struct {
	Agree     bool      `json:"agree"`
	CreatedAt time.Time `json:"created_at"`
}

// CorrectionProposal asks the players to override the recorded release year
type CorrectionProposal struct {
	ProposerID  string          `json:"proposer_id"`
	CreatedAt   time.Time       `json:"created_at"`
	State       CorrectionState `json:"state"`
	ReleaseYear int             `json:"release_year"`
	Votes       map[string]Vote `json:"votes"`
}

// Turn is one round of guessing for a single track
type Turn struct {
	RevisionID         string                      `json:"revision_id"`
	CreatedAt          time.Time                   `json:"created_at"`
	ActivePlayerID     string                      `json:"active_player_id"`
	Track              Track                       `json:"track"`
	ReleaseYearGuesses map[string]ReleaseYearGuess `json:"release_year_guesses"`
	CreditsGuesses     map[string]CreditsGuess     `json:"credits_guesses"`
	Passes             map[string]Pass             `json:"passes"`
	Scoring            *TurnScoring                `json:"scoring,omitempty"`
	CorrectionProposal *CorrectionProposal         `json:"correction_proposal,omitempty"`
	CompletedBy        []string                    `json:"completed_by"`
}

func newTurn(revisionID, activePlayerID string, track Track, now time.Time) *Turn {
	return &Turn{
		RevisionID:         revisionID,
		CreatedAt:          now,
		ActivePlayerID:     activePlayerID,
		Track:              track,
		ReleaseYearGuesses: make(map[string]ReleaseYearGuess),
		CreditsGuesses:     make(map[string]CreditsGuess),
		Passes:             make(map[string]Pass),
		CompletedBy:        []string{},
	}
}

// requireRevision rejects guesses made against another revision of the
// turn's track. A missing revision is rejected as well.
func (t *Turn) requireRevision(revisionID string) error {
	if revisionID == "" {
		return ErrInvalidRequest.WithDetails(map[string]any{"field": "revision_id"})
	}
	if revisionID != t.RevisionID {
		return ErrTurnRevisionMismatch
	}
	return nil
}

// HasGuessesOrPasses reports whether anybody acted on the turn yet
func (t *Turn) HasGuessesOrPasses() bool {
	return len(t.ReleaseYearGuesses) > 0 || len(t.CreditsGuesses) > 0 || len(t.Passes) > 0
}

// IsCompleted reports whether every current player confirmed the turn
func (t *Turn) IsCompleted(playerIDs []string) bool {
	for _, id := range playerIDs {
		if !slices.Contains(t.CompletedBy, id) {
			return false
		}
	}
	return true
}

type orderedGuess[G Guess] struct {
	PlayerID string
	Guess    G
}

// orderGuesses returns the guesses in scoring order: the active player's
// own guess first, then by submission time, then by player id.
func orderGuesses[G Guess](guesses map[string]G, activePlayerID string) []orderedGuess[G] {
	out := make([]orderedGuess[G], 0, len(guesses))
	for id, g := range guesses {
		out = append(out, orderedGuess[G]{PlayerID: id, Guess: g})
	}
	slices.SortFunc(out, func(a, b orderedGuess[G]) int {
		aActive, bActive := a.PlayerID == activePlayerID, b.PlayerID == activePlayerID
		switch {
		case aActive && !bActive:
			return -1
		case bActive && !aActive:
			return 1
		}
		if c := a.Guess.SubmittedAt().Compare(b.Guess.SubmittedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.PlayerID, b.PlayerID)
	})
	return out
}
