package domain

import (
	"slices"
	"time"
)

// Guessed years outside this range are rejected
const (
	MinReleaseYear = 1000
	MaxReleaseYear = 9999
)

// TrackPicker returns a track whose id is not in exclude
type TrackPicker func(exclude []string) (Track, error)

// Randomizer picks the join position of new players
type Randomizer interface {
	Intn(n int) int
}

// TurnCompletion reports what a turn confirmation achieved
type TurnCompletion struct {
	TurnCompleted bool
	GameCompleted bool
}

// NewGame creates a game waiting for players with the creator as game master
func NewGame(id, masterID string, settings GameSettings, now time.Time) (*Game, error) {
	if masterID == "" {
		return nil, ErrInvalidRequest.WithDetails(map[string]any{"field": "player_id"})
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Game{
		ID:        id,
		CreatedAt: now,
		Settings:  settings,
		State:     GameStateWaitingForPlayers,
		Turns:     []*Turn{},
		Players: []*Player{{
			UserID:     masterID,
			GameMaster: true,
			Tokens:     settings.InitialTokens,
			Timeline:   []Track{},
		}},
		DiscardedTrackIDs: []string{},
	}, nil
}

// Join adds a player at a random position of the player order
func (g *Game) Join(userID string, rnd Randomizer) (*Player, error) {
	if err := g.requireState(GameStateWaitingForPlayers); err != nil {
		return nil, err
	}
	if _, ok := g.Player(userID); ok {
		return nil, ErrAlreadyJoined
	}
	p := &Player{UserID: userID, Tokens: g.Settings.InitialTokens, Timeline: []Track{}}
	idx := rnd.Intn(len(g.Players) + 1)
	g.Players = slices.Insert(g.Players, idx, p)
	return p, nil
}

// Leave removes a player. The current turn is left as it is, except that an
// open correction vote is decided again against the remaining players.
func (g *Game) Leave(userID string, now time.Time) error {
	p, err := g.requirePlayer(userID)
	if err != nil {
		return err
	}
	if p.GameMaster {
		return ErrGameMasterCantLeave
	}
	idx := g.playerIndex(userID)
	g.Players = slices.Delete(g.Players, idx, idx+1)

	if g.State != GameStateScoring {
		return nil
	}
	if turn, ok := g.ActiveTurn(); ok {
		if cp := turn.CorrectionProposal; cp != nil && cp.State == CorrectionVoting {
			return g.settleCorrection(turn, now)
		}
	}
	return nil
}

// Start hands every player one starting track
func (g *Game) Start(userID string, pick TrackPicker) error {
	if _, err := g.requireGameMaster(userID); err != nil {
		return err
	}
	if err := g.requireState(GameStateWaitingForPlayers); err != nil {
		return err
	}

	exclude := g.ExcludedTrackIDs()
	starting := make([]Track, 0, len(g.Players))
	for range g.Players {
		track, err := pick(exclude)
		if err != nil {
			return err
		}
		starting = append(starting, track)
		exclude = append(exclude, track.ID)
	}

	for i, p := range g.Players {
		p.Timeline = []Track{starting[i]}
	}
	g.State = GameStateStarted
	return nil
}

// Abort ends the game for everybody
func (g *Game) Abort(userID string) error {
	if _, err := g.requireGameMaster(userID); err != nil {
		return err
	}
	switch g.State {
	case GameStateAborted:
		return ErrGameAlreadyAborted
	case GameStateCompleted:
		return ErrGameAlreadyCompleted
	}
	g.State = GameStateAborted
	return nil
}

// CreateTurn starts the next turn for the next player in round-robin order
// and returns its id.
func (g *Game) CreateTurn(userID, revisionID string, pick TrackPicker, now time.Time) (int, *Turn, error) {
	if _, err := g.requirePlayer(userID); err != nil {
		return 0, nil, err
	}
	if err := g.requireState(GameStateStarted, GameStateScoring); err != nil {
		return 0, nil, err
	}
	prevIdx := -1
	if last, ok := g.ActiveTurn(); ok {
		if g.State == GameStateScoring && !last.IsCompleted(g.PlayerIDs()) {
			return 0, nil, ErrTurnNotCompleted
		}
		prevIdx = g.playerIndex(last.ActivePlayerID)
	}

	track, err := pick(g.ExcludedTrackIDs())
	if err != nil {
		return 0, nil, err
	}

	active := g.Players[(prevIdx+1)%len(g.Players)]
	turn := newTurn(revisionID, active.UserID, track, now)
	g.Turns = append(g.Turns, turn)
	g.State = GameStateGuessing
	return len(g.Turns) - 1, turn, nil
}

// guessCost returns what a guess costs the player; the active player guesses for free
func (g *Game) guessCost(turn *Turn, p *Player) (int, error) {
	cost := TokenCostGuess
	if p.UserID == turn.ActivePlayerID {
		cost = 0
	}
	if p.Tokens < cost {
		return 0, ErrInsufficientTokens.WithDetails(map[string]any{"tokens": p.Tokens, "cost": cost})
	}
	return cost, nil
}

func (g *Game) guessPreconditions(userID string, turnID int) (*Player, *Turn, error) {
	p, err := g.requirePlayer(userID)
	if err != nil {
		return nil, nil, err
	}
	if err := g.requireState(GameStateGuessing); err != nil {
		return nil, nil, err
	}
	turn, err := g.requireActiveTurn(turnID)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := turn.Passes[userID]; ok {
		return nil, nil, ErrAlreadyPassed
	}
	return p, turn, nil
}

func validYear(year int) bool {
	return year >= MinReleaseYear && year <= MaxReleaseYear
}

// CreateReleaseYearGuess records where the player places the turn's track
// on the active player's timeline, optionally with an exact year.
func (g *Game) CreateReleaseYearGuess(userID string, turnID int, revisionID string, position int, year *int, now time.Time) (ReleaseYearGuess, error) {
	p, turn, err := g.guessPreconditions(userID, turnID)
	if err != nil {
		return ReleaseYearGuess{}, err
	}
	if err := turn.requireRevision(revisionID); err != nil {
		return ReleaseYearGuess{}, err
	}
	if _, ok := turn.ReleaseYearGuesses[userID]; ok {
		return ReleaseYearGuess{}, ErrAlreadyGuessed
	}
	timelineLen := 0
	if active, ok := g.Player(turn.ActivePlayerID); ok {
		timelineLen = len(active.Timeline)
	}
	if position < 0 || position > timelineLen {
		return ReleaseYearGuess{}, ErrInvalidPosition.WithDetails(map[string]any{"position": position, "max": timelineLen})
	}
	if year != nil && !validYear(*year) {
		return ReleaseYearGuess{}, ErrInvalidYear.WithDetails(map[string]any{"year": *year})
	}
	cost, err := g.guessCost(turn, p)
	if err != nil {
		return ReleaseYearGuess{}, err
	}

	guess := ReleaseYearGuess{Position: position, Year: year, TokenCost: cost, CreatedAt: now}
	p.Tokens -= cost
	turn.ReleaseYearGuesses[userID] = guess
	return guess, nil
}

// CreateCreditsGuess records the artists and title named by the player
func (g *Game) CreateCreditsGuess(userID string, turnID int, revisionID string, artists []string, title string, now time.Time) (CreditsGuess, error) {
	p, turn, err := g.guessPreconditions(userID, turnID)
	if err != nil {
		return CreditsGuess{}, err
	}
	if err := turn.requireRevision(revisionID); err != nil {
		return CreditsGuess{}, err
	}
	if _, ok := turn.CreditsGuesses[userID]; ok {
		return CreditsGuess{}, ErrAlreadyGuessed
	}
	if len(artists) == 0 || title == "" {
		return CreditsGuess{}, ErrInvalidCredits
	}
	cost, err := g.guessCost(turn, p)
	if err != nil {
		return CreditsGuess{}, err
	}

	guess := CreditsGuess{Artists: slices.Clone(artists), Title: title, TokenCost: cost, CreatedAt: now}
	p.Tokens -= cost
	turn.CreditsGuesses[userID] = guess
	return guess, nil
}

// PassTurn records that the player will not guess on the active turn
func (g *Game) PassTurn(userID string, turnID int, now time.Time) error {
	_, turn, err := g.guessPreconditions(userID, turnID)
	if err != nil {
		return err
	}
	if userID == turn.ActivePlayerID {
		return ErrActivePlayerCantPass
	}
	turn.Passes[userID] = Pass{CreatedAt: now}
	return nil
}

// ScoreTurn closes guessing on the active turn and scores it
func (g *Game) ScoreTurn(userID string, turnID int, now time.Time) (*TurnScoring, error) {
	if _, err := g.requirePlayer(userID); err != nil {
		return nil, err
	}
	if err := g.requireState(GameStateGuessing); err != nil {
		return nil, err
	}
	turn, err := g.requireActiveTurn(turnID)
	if err != nil {
		return nil, err
	}
	if userID != turn.ActivePlayerID {
		return nil, ErrNotActivePlayer
	}
	if err := g.score(turn, now); err != nil {
		return nil, err
	}
	g.State = GameStateScoring
	return turn.Scoring, nil
}

func (g *Game) scoringPreconditions(userID string, turnID int) (*Turn, error) {
	if _, err := g.requirePlayer(userID); err != nil {
		return nil, err
	}
	if err := g.requireState(GameStateScoring); err != nil {
		return nil, err
	}
	return g.requireActiveTurn(turnID)
}

// ProposeCorrection opens a vote to rewrite the turn's release year. The
// proposer's own vote counts as agreement and all passes are cleared.
func (g *Game) ProposeCorrection(userID string, turnID int, year int, now time.Time) (*CorrectionProposal, error) {
	turn, err := g.scoringPreconditions(userID, turnID)
	if err != nil {
		return nil, err
	}
	if cp := turn.CorrectionProposal; cp != nil {
		switch cp.State {
		case CorrectionVoting:
			return nil, ErrCorrectionActive
		case CorrectionAccepted:
			return nil, ErrCorrectionAccepted
		}
	}
	if !validYear(year) {
		return nil, ErrInvalidYear.WithDetails(map[string]any{"year": year})
	}
	if year == turn.Track.ReleaseYear {
		return nil, ErrCorrectionSameYear
	}

	turn.CorrectionProposal = &CorrectionProposal{
		ProposerID:  userID,
		CreatedAt:   now,
		State:       CorrectionVoting,
		ReleaseYear: year,
		Votes:       map[string]Vote{userID: {Agree: true, CreatedAt: now}},
	}
	turn.Passes = make(map[string]Pass)
	if err := g.settleCorrection(turn, now); err != nil {
		return nil, err
	}
	return turn.CorrectionProposal, nil
}

// VoteCorrection records a vote on the turn's open correction proposal
func (g *Game) VoteCorrection(userID string, turnID int, agree bool, now time.Time) (*CorrectionProposal, error) {
	turn, err := g.scoringPreconditions(userID, turnID)
	if err != nil {
		return nil, err
	}
	cp := turn.CorrectionProposal
	if cp == nil || cp.State != CorrectionVoting {
		return nil, ErrNoActiveCorrection
	}
	if _, ok := cp.Votes[userID]; ok {
		return nil, ErrAlreadyVoted
	}
	cp.Votes[userID] = Vote{Agree: agree, CreatedAt: now}
	if err := g.settleCorrection(turn, now); err != nil {
		return nil, err
	}
	return cp, nil
}

// settleCorrection decides the proposal once a majority of the current
// players agrees, or at least half of them disagree. An accepted proposal
// rewrites the release year and rescores the turn.
func (g *Game) settleCorrection(turn *Turn, now time.Time) error {
	cp := turn.CorrectionProposal
	total := len(g.Players)
	var agree, disagree int
	for _, p := range g.Players {
		v, ok := cp.Votes[p.UserID]
		if !ok {
			continue
		}
		if v.Agree {
			agree++
		} else {
			disagree++
		}
	}

	switch {
	case agree*2 > total:
		cp.State = CorrectionAccepted
		turn.Track.ReleaseYear = cp.ReleaseYear
		turn.CompletedBy = []string{}
		return g.score(turn, now)
	case disagree*2 >= total:
		cp.State = CorrectionRejected
	}
	return nil
}

// CompleteTurn confirms the scored turn for the player. Once every player
// confirmed, the game ends if the round is over and a single player leads
// with at least the target timeline length.
func (g *Game) CompleteTurn(userID string, turnID int, now time.Time) (TurnCompletion, error) {
	turn, err := g.scoringPreconditions(userID, turnID)
	if err != nil {
		return TurnCompletion{}, err
	}
	if cp := turn.CorrectionProposal; cp != nil && cp.State == CorrectionVoting {
		return TurnCompletion{}, ErrCorrectionPending
	}
	if slices.Contains(turn.CompletedBy, userID) {
		return TurnCompletion{}, ErrAlreadyConfirmed
	}
	turn.CompletedBy = append(turn.CompletedBy, userID)

	var res TurnCompletion
	if !turn.IsCompleted(g.PlayerIDs()) {
		return res, nil
	}
	res.TurnCompleted = true

	if g.roundOver(turn) && g.hasSingleLeader() {
		g.State = GameStateCompleted
		completedAt := now
		g.CompletedAt = &completedAt
		res.GameCompleted = true
	}
	return res, nil
}

func (g *Game) roundOver(turn *Turn) bool {
	return len(g.Players) > 0 && g.Players[len(g.Players)-1].UserID == turn.ActivePlayerID
}

// hasSingleLeader reports whether exactly one player holds the longest
// timeline and it reached the target
func (g *Game) hasSingleLeader() bool {
	best, count := -1, 0
	for _, p := range g.Players {
		switch n := len(p.Timeline); {
		case n > best:
			best, count = n, 1
		case n == best:
			count++
		}
	}
	return count == 1 && best >= g.Settings.TimelineTarget
}

// BuyTrack spends tokens on an extra track placed straight into the buyer's timeline
func (g *Game) BuyTrack(userID string, pick TrackPicker) (Track, error) {
	p, err := g.requirePlayer(userID)
	if err != nil {
		return Track{}, err
	}
	if err := g.requireState(GameStateGuessing, GameStateScoring); err != nil {
		return Track{}, err
	}
	if p.Tokens < TokenCostBuyTrack {
		return Track{}, ErrInsufficientTokens.WithDetails(map[string]any{"tokens": p.Tokens, "cost": TokenCostBuyTrack})
	}
	track, err := pick(g.ExcludedTrackIDs())
	if err != nil {
		return Track{}, err
	}
	p.Tokens -= TokenCostBuyTrack
	p.insertTrack(track)
	return track, nil
}

// ExchangeTrack lets the active player swap the turn's track before anybody
// acted on it. The old track is discarded for good.
func (g *Game) ExchangeTrack(userID string, turnID int, newRevisionID string, pick TrackPicker) (*Turn, error) {
	p, err := g.requirePlayer(userID)
	if err != nil {
		return nil, err
	}
	if err := g.requireState(GameStateGuessing); err != nil {
		return nil, err
	}
	turn, err := g.requireActiveTurn(turnID)
	if err != nil {
		return nil, err
	}
	if userID != turn.ActivePlayerID {
		return nil, ErrNotActivePlayer
	}
	if turn.HasGuessesOrPasses() {
		return nil, ErrTurnHasGuesses
	}
	if p.Tokens < TokenCostExchangeTrack {
		return nil, ErrInsufficientTokens.WithDetails(map[string]any{"tokens": p.Tokens, "cost": TokenCostExchangeTrack})
	}
	track, err := pick(g.ExcludedTrackIDs())
	if err != nil {
		return nil, err
	}

	p.Tokens -= TokenCostExchangeTrack
	g.DiscardedTrackIDs = append(g.DiscardedTrackIDs, turn.Track.ID)
	turn.Track = track
	turn.RevisionID = newRevisionID
	return turn, nil
}
