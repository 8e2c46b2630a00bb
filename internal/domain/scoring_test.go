package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionValid(t *testing.T) {
	timeline := []Track{testTrack("a", 1970), testTrack("b", 1990)}
	tests := []struct {
		position, year int
		want           bool
	}{
		{0, 1960, true},
		{0, 1970, true},
		{0, 1971, false},
		{1, 1980, true},
		{1, 1970, true},
		{1, 1990, true},
		{1, 1991, false},
		{2, 2000, true},
		{2, 1989, false},
		{3, 2000, false},
		{-1, 1960, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, positionValid(timeline, tt.position, tt.year), "position %d year %d", tt.position, tt.year)
	}
}

func TestTwoPlayerReleaseYearScenario(t *testing.T) {
	g, turn := newGuessingGame(t, testSettings(), "alice", "bob")
	require.Equal(t, "alice", turn.ActivePlayerID)

	_, err := g.CreateReleaseYearGuess("bob", 0, "rev-1", 1, intPtr(1980), at(1))
	require.NoError(t, err)

	scoring, err := g.ScoreTurn("alice", 0, at(2))
	require.NoError(t, err)

	require.NotNil(t, scoring.ReleaseYear.Winner)
	assert.Equal(t, "bob", *scoring.ReleaseYear.Winner)
	assert.Equal(t, TokenGain{RewardTheoretical: TokenGainYearGuess, RewardEffective: TokenGainYearGuess},
		scoring.ReleaseYear.TokenGains["bob"])

	require.NotNil(t, scoring.Position.Winner)
	assert.Equal(t, "bob", *scoring.Position.Winner)
	assert.Equal(t, 1, scoring.Position.TokenGains["bob"].Refund)

	bob := mustPlayer(t, g, "bob")
	assert.Equal(t, 3, bob.Tokens)
	assert.Equal(t, []string{"turn-1", "start-1"}, trackIDs(bob.Timeline))
	assert.Len(t, mustPlayer(t, g, "alice").Timeline, 1)
}

func TestYearRewardCappedByMaxTokens(t *testing.T) {
	s := testSettings()
	s.InitialTokens = 2
	s.MaxTokens = 2
	g, _ := newGuessingGame(t, s, "alice", "bob")

	_, err := g.CreateReleaseYearGuess("bob", 0, "rev-1", 1, intPtr(1980), at(1))
	require.NoError(t, err)
	scoring, err := g.ScoreTurn("alice", 0, at(2))
	require.NoError(t, err)

	gain := scoring.ReleaseYear.TokenGains["bob"]
	assert.Equal(t, TokenGainYearGuess, gain.RewardTheoretical)
	assert.Zero(t, gain.RewardEffective)
	assert.Equal(t, 2, mustPlayer(t, g, "bob").Tokens)
}

func TestDuplicatePositionEarlierGuessWins(t *testing.T) {
	g, _ := newGuessingGame(t, testSettings(), "alice", "bob", "carol")

	_, err := g.CreateReleaseYearGuess("carol", 0, "rev-1", 1, nil, at(2))
	require.NoError(t, err)
	_, err = g.CreateReleaseYearGuess("bob", 0, "rev-1", 1, nil, at(1))
	require.NoError(t, err)

	scoring, err := g.ScoreTurn("alice", 0, at(3))
	require.NoError(t, err)

	require.NotNil(t, scoring.Position.Winner)
	assert.Equal(t, "bob", *scoring.Position.Winner)
	assert.Equal(t, []string{"bob", "carol"}, scoring.Position.Correct)
	assert.Equal(t, 1, scoring.Position.TokenGains["carol"].Refund)

	assert.Contains(t, trackIDs(mustPlayer(t, g, "bob").Timeline), "turn-1")
	assert.NotContains(t, trackIDs(mustPlayer(t, g, "carol").Timeline), "turn-1")
	assert.Equal(t, 2, mustPlayer(t, g, "carol").Tokens)
}

func TestPositionClaimedWrongIndexIsRefunded(t *testing.T) {
	g, _ := newGuessingGame(t, testSettings(), "alice", "bob", "carol")

	// index 0 puts 1980 before 1970
	_, err := g.CreateReleaseYearGuess("bob", 0, "rev-1", 0, nil, at(1))
	require.NoError(t, err)
	_, err = g.CreateReleaseYearGuess("carol", 0, "rev-1", 0, nil, at(2))
	require.NoError(t, err)

	scoring, err := g.ScoreTurn("alice", 0, at(3))
	require.NoError(t, err)

	assert.Nil(t, scoring.Position.Winner)
	assert.Equal(t, TokenGain{}, scoring.Position.TokenGains["bob"])
	assert.Equal(t, 1, scoring.Position.TokenGains["carol"].Refund)
	assert.Equal(t, 1, mustPlayer(t, g, "bob").Tokens)
	assert.Equal(t, 2, mustPlayer(t, g, "carol").Tokens)
}

func TestActivePlayerGuessComesFirst(t *testing.T) {
	g, _ := newGuessingGame(t, testSettings(), "alice", "bob")

	_, err := g.CreateReleaseYearGuess("bob", 0, "rev-1", 1, intPtr(1980), at(1))
	require.NoError(t, err)
	_, err = g.CreateReleaseYearGuess("alice", 0, "rev-1", 1, intPtr(1980), at(2))
	require.NoError(t, err)

	scoring, err := g.ScoreTurn("alice", 0, at(3))
	require.NoError(t, err)

	assert.Equal(t, "alice", *scoring.Position.Winner)
	assert.Equal(t, "alice", *scoring.ReleaseYear.Winner)
	// later correct years get nothing back
	assert.Equal(t, TokenGain{}, scoring.ReleaseYear.TokenGains["bob"])
	assert.Equal(t, []string{"alice", "bob"}, scoring.ReleaseYear.Correct)
}

func TestCreditsScoring(t *testing.T) {
	g, turn := newGuessingGame(t, testSettings(), "alice", "bob", "carol", "dave")
	turn.Track.Title = "Hey Jude - Remastered 2015"
	turn.Track.Artists = []string{"The Beatles"}

	_, err := g.CreateCreditsGuess("bob", 0, "rev-1", []string{"Queen"}, "Bohemian Rhapsody", at(1))
	require.NoError(t, err)
	_, err = g.CreateCreditsGuess("carol", 0, "rev-1", []string{"queen"}, "bohemian rhapsody!", at(2))
	require.NoError(t, err)
	_, err = g.CreateCreditsGuess("dave", 0, "rev-1", []string{"the beatles"}, "hey jude", at(3))
	require.NoError(t, err)

	scoring, err := g.ScoreTurn("alice", 0, at(4))
	require.NoError(t, err)

	credits := scoring.Credits
	require.NotNil(t, credits.Winner)
	assert.Equal(t, "dave", *credits.Winner)
	assert.InDelta(t, 1.0, credits.Similarities["dave"], 1e-9)
	assert.Less(t, credits.Similarities["bob"], 0.8)

	assert.Equal(t, TokenGain{}, credits.TokenGains["bob"])
	assert.Equal(t, TokenGain{Refund: 1}, credits.TokenGains["carol"])
	assert.Equal(t, TokenGain{Refund: 1, RewardTheoretical: 1, RewardEffective: 1}, credits.TokenGains["dave"])

	assert.Equal(t, map[string]int{"alice": 2, "bob": 1, "carol": 2, "dave": 3}, tokensOf(g))
}

func TestRewardsClampedInCategoryOrder(t *testing.T) {
	s := testSettings()
	s.InitialTokens = 3
	s.MaxTokens = 3
	g, turn := newGuessingGame(t, s, "alice", "bob")

	_, err := g.CreateReleaseYearGuess("bob", 0, "rev-1", 0, intPtr(1980), at(1))
	require.NoError(t, err)
	_, err = g.CreateCreditsGuess("bob", 0, "rev-1", turn.Track.Artists, turn.Track.Title, at(1))
	require.NoError(t, err)
	require.Equal(t, 1, mustPlayer(t, g, "bob").Tokens)

	scoring, err := g.ScoreTurn("alice", 0, at(2))
	require.NoError(t, err)

	// refunds first: credits refund brings bob to 2, then the year reward
	// fills the last slot and the credits reward is cut to zero
	assert.Equal(t, 1, scoring.ReleaseYear.TokenGains["bob"].RewardEffective)
	assert.Equal(t, TokenGain{Refund: 1, RewardTheoretical: 1}, scoring.Credits.TokenGains["bob"])
	assert.Equal(t, 3, mustPlayer(t, g, "bob").Tokens)
}

func TestRescoringIsIdempotent(t *testing.T) {
	g, _ := newGuessingGame(t, testSettings(), "alice", "bob", "carol")
	_, err := g.CreateReleaseYearGuess("bob", 0, "rev-1", 1, intPtr(1980), at(1))
	require.NoError(t, err)
	_, err = g.CreateReleaseYearGuess("carol", 0, "rev-1", 1, intPtr(1981), at(2))
	require.NoError(t, err)
	_, err = g.CreateCreditsGuess("carol", 0, "rev-1", []string{"Artist turn-1"}, "Song turn-1", at(3))
	require.NoError(t, err)

	first, err := g.ScoreTurn("alice", 0, at(4))
	require.NoError(t, err)
	tokens := tokensOf(g)
	timelines := make(map[string][]string)
	for _, p := range g.Players {
		timelines[p.UserID] = trackIDs(p.Timeline)
	}

	turn, _ := g.ActiveTurn()
	require.NoError(t, g.score(turn, at(4)))

	assert.Equal(t, first, turn.Scoring)
	assert.Equal(t, tokens, tokensOf(g))
	for _, p := range g.Players {
		assert.Equal(t, timelines[p.UserID], trackIDs(p.Timeline))
	}
}

func TestCorrectionVotingThresholds(t *testing.T) {
	newScoringGame := func(t *testing.T) *Game {
		g, _ := newGuessingGame(t, testSettings(), "alice", "bob", "carol")
		_, err := g.ScoreTurn("alice", 0, t0)
		require.NoError(t, err)
		return g
	}

	t.Run("one of three agreeing keeps voting", func(t *testing.T) {
		g := newScoringGame(t)
		cp, err := g.ProposeCorrection("bob", 0, 1985, t0)
		require.NoError(t, err)
		assert.Equal(t, CorrectionVoting, cp.State)

		cp, err = g.VoteCorrection("carol", 0, false, t0)
		require.NoError(t, err)
		assert.Equal(t, CorrectionVoting, cp.State)

		cp, err = g.VoteCorrection("alice", 0, false, t0)
		require.NoError(t, err)
		assert.Equal(t, CorrectionRejected, cp.State)

		turn, _ := g.ActiveTurn()
		assert.Equal(t, 1980, turn.Track.ReleaseYear)
	})

	t.Run("two of three agreeing accepts", func(t *testing.T) {
		g := newScoringGame(t)
		_, err := g.ProposeCorrection("bob", 0, 1985, t0)
		require.NoError(t, err)

		_, err = g.VoteCorrection("bob", 0, true, t0)
		assert.ErrorIs(t, err, ErrAlreadyVoted)

		cp, err := g.VoteCorrection("carol", 0, true, t0)
		require.NoError(t, err)
		assert.Equal(t, CorrectionAccepted, cp.State)

		turn, _ := g.ActiveTurn()
		assert.Equal(t, 1985, turn.Track.ReleaseYear)

		_, err = g.ProposeCorrection("carol", 0, 1990, t0)
		assert.ErrorIs(t, err, ErrCorrectionAccepted)
		_, err = g.VoteCorrection("alice", 0, true, t0)
		assert.ErrorIs(t, err, ErrNoActiveCorrection)
	})

	t.Run("proposal preconditions", func(t *testing.T) {
		g := newScoringGame(t)
		_, err := g.ProposeCorrection("bob", 0, 1980, t0)
		assert.ErrorIs(t, err, ErrCorrectionSameYear)

		_, err = g.ProposeCorrection("bob", 0, 1985, t0)
		require.NoError(t, err)
		_, err = g.ProposeCorrection("carol", 0, 1986, t0)
		assert.ErrorIs(t, err, ErrCorrectionActive)
	})
}

func TestLeaveDecidesOpenCorrection(t *testing.T) {
	g, _ := newGuessingGame(t, testSettings(), "alice", "bob", "carol")
	_, err := g.ScoreTurn("alice", 0, at(1))
	require.NoError(t, err)

	cp, err := g.ProposeCorrection("bob", 0, 1985, at(2))
	require.NoError(t, err)
	_, err = g.VoteCorrection("alice", 0, false, at(3))
	require.NoError(t, err)
	require.Equal(t, CorrectionVoting, cp.State)

	_, err = g.CompleteTurn("alice", 0, at(4))
	assert.ErrorIs(t, err, ErrCorrectionPending)

	// one of two remaining players disagrees
	require.NoError(t, g.Leave("carol", at(5)))
	assert.Equal(t, CorrectionRejected, cp.State)
	assert.Equal(t, 1980, g.Turns[0].Track.ReleaseYear)

	_, err = g.CompleteTurn("alice", 0, at(6))
	assert.NoError(t, err)
}

func TestAcceptedCorrectionRescoresTurn(t *testing.T) {
	g, _ := newGuessingGame(t, testSettings(), "alice", "bob", "carol")
	require.NoError(t, g.PassTurn("carol", 0, at(0)))
	_, err := g.CreateReleaseYearGuess("bob", 0, "rev-1", 0, intPtr(1965), at(1))
	require.NoError(t, err)

	scoring, err := g.ScoreTurn("alice", 0, at(2))
	require.NoError(t, err)
	assert.Nil(t, scoring.Position.Winner)
	assert.Nil(t, scoring.ReleaseYear.Winner)
	assert.Equal(t, 1, mustPlayer(t, g, "bob").Tokens)

	_, err = g.CompleteTurn("alice", 0, at(3))
	require.NoError(t, err)

	_, err = g.ProposeCorrection("bob", 0, 1965, at(4))
	require.NoError(t, err)
	turn, _ := g.ActiveTurn()
	assert.Empty(t, turn.Passes)

	cp, err := g.VoteCorrection("carol", 0, true, at(5))
	require.NoError(t, err)
	require.Equal(t, CorrectionAccepted, cp.State)

	require.NotNil(t, turn.Scoring)
	assert.Equal(t, at(5), turn.Scoring.ScoredAt)
	assert.Equal(t, "bob", *turn.Scoring.Position.Winner)
	assert.Equal(t, "bob", *turn.Scoring.ReleaseYear.Winner)
	assert.Empty(t, turn.CompletedBy)

	bob := mustPlayer(t, g, "bob")
	assert.Equal(t, 3, bob.Tokens)
	assert.Equal(t, []string{"turn-1", "start-1"}, trackIDs(bob.Timeline))
	assert.Equal(t, 1965, bob.Timeline[0].ReleaseYear)
	assert.True(t, g.TimelinesSorted())
}

// TestRandomGamesKeepInvariants plays many random turns and checks that
// timelines stay sorted and balances stay within bounds.
func TestRandomGamesKeepInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	s := testSettings()
	s.MaxTokens = 3
	s.TimelineTarget = 1000
	players := []string{"alice", "bob", "carol"}
	g := newStartedGame(t, s, players...)

	catalog := make([]Track, 0, 200)
	for i := 0; i < 200; i++ {
		catalog = append(catalog, testTrack("c"+string(rune('a'+i%26))+string(rune('a'+i/26)), 1950+rnd.Intn(70)))
	}
	pick := pickFrom(catalog...)

	for turnID := 0; turnID < 40; turnID++ {
		_, turn, err := g.CreateTurn("alice", "rev", pick, at(turnID))
		require.NoError(t, err)
		active := mustPlayer(t, g, turn.ActivePlayerID)

		for i, id := range players {
			now := at(turnID*10 + i)
			switch rnd.Intn(3) {
			case 0:
				year := 1950 + rnd.Intn(70)
				_, _ = g.CreateReleaseYearGuess(id, turnID, "", rnd.Intn(len(active.Timeline)+1), &year, now)
			case 1:
				_, _ = g.CreateCreditsGuess(id, turnID, "", turn.Track.Artists, turn.Track.Title, now)
			default:
				_ = g.PassTurn(id, turnID, now)
			}
		}
		_, err = g.ScoreTurn(turn.ActivePlayerID, turnID, at(turnID))
		require.NoError(t, err)

		if rnd.Intn(4) == 0 {
			if _, err := g.ProposeCorrection("bob", turnID, 1950+rnd.Intn(70), at(turnID)); err == nil {
				_, _ = g.VoteCorrection("carol", turnID, rnd.Intn(2) == 0, at(turnID))
				_, _ = g.VoteCorrection("alice", turnID, rnd.Intn(2) == 0, at(turnID))
			}
		}

		require.True(t, g.TimelinesSorted(), "turn %d", turnID)
		for _, p := range g.Players {
			require.GreaterOrEqual(t, p.Tokens, 0)
			require.LessOrEqual(t, p.Tokens, s.MaxTokens)
		}

		for _, id := range players {
			_, err := g.CompleteTurn(id, turnID, at(turnID))
			require.NoError(t, err)
		}
	}
}
