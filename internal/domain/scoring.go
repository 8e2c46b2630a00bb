package domain

import (
	"fmt"
	"time"

	"github.com/timeline-party/internal/similarity"
)

// TokenGain is the token movement of one player in one scoring category
type TokenGain struct {
	Refund            int `json:"refund"`
	RewardTheoretical int `json:"reward_theoretical"`
	RewardEffective   int `json:"reward_effective"`
}

// CategoryScoring is one of Scoring or CreditsScoring
type CategoryScoring interface {
	isCategoryScoring()
	result() *Scoring
}

// Scoring is the outcome of a single-winner scoring category
type Scoring struct {
	Winner     *string              `json:"winner,omitempty"`
	Correct    []string             `json:"correct"`
	TokenGains map[string]TokenGain `json:"token_gains"`
}

// CreditsScoring additionally keeps the similarity of every credits guess
type CreditsScoring struct {
	Scoring
	Similarities map[string]float64 `json:"similarities"`
}

func (*Scoring) isCategoryScoring()        {}
func (s *Scoring) result() *Scoring        { return s }
func (*CreditsScoring) isCategoryScoring() {}
func (s *CreditsScoring) result() *Scoring { return &s.Scoring }

func newScoring() Scoring {
	return Scoring{Correct: []string{}, TokenGains: make(map[string]TokenGain)}
}

func (s *Scoring) win(playerID string) {
	s.Winner = &playerID
	s.Correct = append(s.Correct, playerID)
}

// TurnScoring is the full scoring of a turn
type TurnScoring struct {
	Position    Scoring        `json:"position"`
	ReleaseYear Scoring        `json:"release_year"`
	Credits     CreditsScoring `json:"credits"`
	ScoredAt    time.Time      `json:"scored_at"`
}

// Categories returns the categories in the order rewards are applied
func (ts *TurnScoring) Categories() []CategoryScoring {
	return []CategoryScoring{&ts.Position, &ts.ReleaseYear, &ts.Credits}
}

// TotalGain sums what a player received over every category
func (ts *TurnScoring) TotalGain(playerID string) int {
	total := 0
	for _, c := range ts.Categories() {
		g := c.result().TokenGains[playerID]
		total += g.Refund + g.RewardEffective
	}
	return total
}

// positionValid reports whether the release year fits between the
// neighbours of the insertion index
func positionValid(timeline []Track, position, year int) bool {
	if position < 0 || position > len(timeline) {
		return false
	}
	if position > 0 && timeline[position-1].ReleaseYear > year {
		return false
	}
	if position < len(timeline) && timeline[position].ReleaseYear < year {
		return false
	}
	return true
}

// score reverts any earlier scoring of the turn, then computes and applies a fresh one
func (g *Game) score(turn *Turn, now time.Time) error {
	g.revertScoring(turn)

	active, ok := g.Player(turn.ActivePlayerID)
	if !ok {
		return fmt.Errorf("scoring turn %s: active player %q is not part of game %s",
			turn.RevisionID, turn.ActivePlayerID, g.ID)
	}

	ts := &TurnScoring{ScoredAt: now}
	ts.Position = scorePosition(turn, active.Timeline)
	ts.ReleaseYear = scoreReleaseYear(turn)
	ts.Credits = scoreCredits(turn, g.Settings)

	if ts.Position.Winner != nil {
		if winner, ok := g.Player(*ts.Position.Winner); ok {
			winner.insertTrack(turn.Track)
		}
	}

	g.applyTokenGains(ts)
	turn.Scoring = ts
	return nil
}

func scorePosition(turn *Turn, activeTimeline []Track) Scoring {
	s := newScoring()
	year := turn.Track.ReleaseYear
	claimed := make(map[int]bool)

	for _, og := range orderGuesses(turn.ReleaseYearGuesses, turn.ActivePlayerID) {
		pos := og.Guess.Position
		valid := positionValid(activeTimeline, pos, year)

		var gain TokenGain
		switch {
		case valid && s.Winner == nil:
			s.win(og.PlayerID)
			gain.Refund = og.Guess.TokenCost
			gain.RewardTheoretical = TokenGainPositionGuess
		case valid:
			s.Correct = append(s.Correct, og.PlayerID)
			gain.Refund = og.Guess.TokenCost
		case claimed[pos]:
			gain.Refund = og.Guess.TokenCost
		}
		claimed[pos] = true
		s.TokenGains[og.PlayerID] = gain
	}
	return s
}

// scoreReleaseYear rewards the first exact year. Later correct guesses get
// neither refund nor reward.
func scoreReleaseYear(turn *Turn) Scoring {
	s := newScoring()
	year := turn.Track.ReleaseYear

	for _, og := range orderGuesses(turn.ReleaseYearGuesses, turn.ActivePlayerID) {
		if og.Guess.Year == nil {
			continue
		}
		var gain TokenGain
		if *og.Guess.Year == year {
			if s.Winner == nil {
				s.win(og.PlayerID)
				gain.RewardTheoretical = TokenGainYearGuess
			} else {
				s.Correct = append(s.Correct, og.PlayerID)
			}
		}
		s.TokenGains[og.PlayerID] = gain
	}
	return s
}

func scoreCredits(turn *Turn, settings GameSettings) CreditsScoring {
	s := CreditsScoring{Scoring: newScoring(), Similarities: make(map[string]float64)}
	opts := similarity.Options{
		AllArtists: settings.ArtistMatchMode == ArtistMatchAll,
		MainTitle:  settings.TitleMatchMode == TitleMatchMain,
	}
	threshold := settings.CreditsSimilarityThreshold

	var seen []CreditsGuess
	for _, og := range orderGuesses(turn.CreditsGuesses, turn.ActivePlayerID) {
		guess := og.Guess
		sim := similarity.Credits(turn.Track.Artists, turn.Track.Title, guess.Artists, guess.Title, opts)
		s.Similarities[og.PlayerID] = sim
		correct := sim >= threshold

		duplicate := false
		for _, earlier := range seen {
			if similarity.Credits(earlier.Artists, earlier.Title, guess.Artists, guess.Title, opts) >= threshold {
				duplicate = true
				break
			}
		}

		var gain TokenGain
		switch {
		case correct && s.Winner == nil:
			s.win(og.PlayerID)
			gain.Refund = guess.TokenCost
			gain.RewardTheoretical = TokenGainCreditsGuess
		case correct:
			s.Correct = append(s.Correct, og.PlayerID)
			gain.Refund = guess.TokenCost
		case duplicate:
			gain.Refund = guess.TokenCost
		}
		s.TokenGains[og.PlayerID] = gain
		seen = append(seen, guess)
	}
	return s
}

// applyTokenGains applies every refund first, then the rewards category by
// category, clamping each reward to the room left under max tokens.
func (g *Game) applyTokenGains(ts *TurnScoring) {
	limit := g.Settings.MaxTokens
	categories := ts.Categories()

	for _, c := range categories {
		gains := c.result().TokenGains
		for id, gain := range gains {
			p, ok := g.Player(id)
			if !ok {
				gain.Refund = 0
				gains[id] = gain
				continue
			}
			gain.Refund = min(gain.Refund, max(0, limit-p.Tokens))
			p.Tokens += gain.Refund
			gains[id] = gain
		}
	}

	for _, c := range categories {
		gains := c.result().TokenGains
		for _, id := range g.PlayerIDs() {
			gain, ok := gains[id]
			if !ok {
				continue
			}
			p, _ := g.Player(id)
			gain.RewardEffective = min(gain.RewardTheoretical, max(0, limit-p.Tokens))
			p.Tokens += gain.RewardEffective
			gains[id] = gain
		}
		for id, gain := range gains {
			if _, ok := g.Player(id); !ok {
				gain.RewardEffective = 0
				gains[id] = gain
			}
		}
	}
}

// revertScoring takes back every token granted by the turn's scoring and
// removes the turn's track from all timelines.
func (g *Game) revertScoring(turn *Turn) {
	if turn.Scoring == nil {
		return
	}
	for _, c := range turn.Scoring.Categories() {
		for id, gain := range c.result().TokenGains {
			if p, ok := g.Player(id); ok {
				p.Tokens = max(0, p.Tokens-gain.Refund-gain.RewardEffective)
			}
		}
	}
	for _, p := range g.Players {
		p.removeTrack(turn.Track.ID)
	}
	turn.Scoring = nil
}
