package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/timeline-party/internal/clock"
	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/ids"
	"github.com/timeline-party/internal/notify"
	"github.com/timeline-party/internal/tracks"
	"github.com/timeline-party/internal/usecase"
)

// EventLog appends committed notifications to a durable log
type EventLog interface {
	AppendEvents(ctx context.Context, gameID, actorID string, events []notify.Notification, at time.Time) error
}

// Config holds the dependencies of the game service
type Config struct {
	Executor *usecase.Executor
	Tracks   tracks.Provider
	Clock    clock.Clock
	IDs      ids.Generator
	Defaults config.GameConfig
	// Events is optional
	Events EventLog
	// Rand picks join positions; seeded from the clock when nil
	Rand   domain.Randomizer
	Logger *slog.Logger
}

// GameService exposes one method per game use case
type GameService struct {
	executor *usecase.Executor
	tracks   tracks.Provider
	clock    clock.Clock
	ids      ids.Generator
	defaults config.GameConfig
	events   EventLog
	rnd      domain.Randomizer
	logger   *slog.Logger
}

// NewGameService creates a game service
func NewGameService(cfg *Config) (*GameService, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if cfg.Tracks == nil {
		return nil, errors.New("track provider cannot be nil")
	}
	if cfg.Clock == nil {
		return nil, errors.New("clock cannot be nil")
	}
	if cfg.IDs == nil {
		return nil, errors.New("id generator cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	rnd := cfg.Rand
	if rnd == nil {
		rnd = &lockedRand{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	return &GameService{
		executor: cfg.Executor,
		tracks:   cfg.Tracks,
		clock:    cfg.Clock,
		ids:      cfg.IDs,
		defaults: cfg.Defaults,
		events:   cfg.Events,
		rnd:      rnd,
		logger:   cfg.Logger,
	}, nil
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

// mutation changes a loaded game. Notifications go through the scope.
type mutation func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error

// mutate loads the game, applies fn, tracks the game for commit and logs the
// buffered notifications once the commit went through
func (s *GameService) mutate(ctx context.Context, name, playerID, gameID string, fn mutation) (*domain.Game, error) {
	return usecase.Run(ctx, s.executor, name, func(ctx context.Context, sc *usecase.Scope) (*domain.Game, error) {
		g, err := sc.LoadGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		if err := fn(ctx, sc, g, now); err != nil {
			return nil, err
		}
		sc.Work.Track(g)
		s.logEvents(sc, g.ID, playerID, now)
		return g, nil
	})
}

func (s *GameService) logEvents(sc *usecase.Scope, gameID, actorID string, at time.Time) {
	if s.events == nil || sc.Notifications.Len() == 0 {
		return
	}
	events := sc.Notifications.Notifications()
	sc.AfterCommit(func(ctx context.Context) {
		if err := s.events.AppendEvents(ctx, gameID, actorID, events, at); err != nil {
			s.logger.Warn("Failed to append game events", "game_id", gameID, "error", err)
		}
	})
}

func (s *GameService) picker(ctx context.Context, g *domain.Game) domain.TrackPicker {
	return tracks.Picker(ctx, s.tracks, g.Settings)
}

func notifyOthers(sc *usecase.Scope, g *domain.Game, actorID string, n notify.Notification) {
	sc.Notify(g.ID, g.OtherPlayerIDs(actorID), n)
}

// CreateGame creates a game with the player as game master
func (s *GameService) CreateGame(ctx context.Context, playerID string, settings domain.GameSettings) (*GameView, error) {
	settings = s.defaults.Apply(settings)
	g, err := usecase.Run(ctx, s.executor, "create_game", func(ctx context.Context, sc *usecase.Scope) (*domain.Game, error) {
		g, err := domain.NewGame(s.ids.NewID(), playerID, settings, s.clock.Now())
		if err != nil {
			return nil, err
		}
		sc.Work.Track(g)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Game created", "game_id", g.ID, "player_id", playerID)
	return NewGameView(g), nil
}

// GetGame returns the current projection of a game
func (s *GameService) GetGame(ctx context.Context, gameID string) (*GameView, error) {
	g, err := usecase.Run(ctx, s.executor, "get_game", func(ctx context.Context, sc *usecase.Scope) (*domain.Game, error) {
		return sc.LoadGame(ctx, gameID)
	})
	if err != nil {
		return nil, err
	}
	return NewGameView(g), nil
}

// IsPlayer reports whether the player belongs to the game
func (s *GameService) IsPlayer(ctx context.Context, gameID, playerID string) error {
	view, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	for _, p := range view.Players {
		if p.UserID == playerID {
			return nil
		}
	}
	return domain.ErrNotAPlayer
}

// JoinGame adds the player to a game that has not started
func (s *GameService) JoinGame(ctx context.Context, playerID, gameID string) (*GameView, error) {
	g, err := s.mutate(ctx, "join_game", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		if _, err := g.Join(playerID, s.rnd); err != nil {
			return err
		}
		notifyOthers(sc, g, playerID, playerNotification(EventPlayerJoined, g.ID, playerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGameView(g), nil
}

// LeaveGame removes the player from the game
func (s *GameService) LeaveGame(ctx context.Context, playerID, gameID string) (*GameView, error) {
	g, err := s.mutate(ctx, "leave_game", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		if err := g.Leave(playerID, now); err != nil {
			return err
		}
		notifyOthers(sc, g, playerID, playerNotification(EventPlayerLeft, g.ID, playerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGameView(g), nil
}

// StartGame deals the starting tracks
func (s *GameService) StartGame(ctx context.Context, playerID, gameID string) (*GameView, error) {
	g, err := s.mutate(ctx, "start_game", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		if err := g.Start(playerID, s.picker(ctx, g)); err != nil {
			return err
		}
		notifyOthers(sc, g, playerID, gameNotification(EventGameStarted, g))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGameView(g), nil
}

// AbortGame ends the game for everybody
func (s *GameService) AbortGame(ctx context.Context, playerID, gameID string) (*GameView, error) {
	g, err := s.mutate(ctx, "abort_game", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		if err := g.Abort(playerID); err != nil {
			return err
		}
		notifyOthers(sc, g, playerID, gameNotification(EventGameAborted, g))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Game aborted", "game_id", gameID, "player_id", playerID)
	return NewGameView(g), nil
}

// CreateTurn opens the next turn
func (s *GameService) CreateTurn(ctx context.Context, playerID, gameID string) (*TurnView, error) {
	var view *TurnView
	_, err := s.mutate(ctx, "create_turn", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		turnID, turn, err := g.CreateTurn(playerID, s.ids.NewID(), s.picker(ctx, g), now)
		if err != nil {
			return err
		}
		view = NewTurnView(turnID, turn)
		notifyOthers(sc, g, playerID, turnNotification(EventTurnCreated, g, playerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ReleaseYearGuessInput is the payload of a release year guess
type ReleaseYearGuessInput struct {
	RevisionID string `json:"revision_id"`
	Position   int    `json:"position"`
	Year       *int   `json:"year,omitempty"`
}

// CreateReleaseYearGuess places the turn's track on the active timeline
func (s *GameService) CreateReleaseYearGuess(ctx context.Context, playerID, gameID string, turnID int, in ReleaseYearGuessInput) (*TurnView, error) {
	return s.turnMutation(ctx, "create_release_year_guess", playerID, gameID, turnID, EventReleaseYearGuessCreated,
		func(g *domain.Game, now time.Time) error {
			_, err := g.CreateReleaseYearGuess(playerID, turnID, in.RevisionID, in.Position, in.Year, now)
			return err
		})
}

// CreditsGuessInput is the payload of a credits guess
type CreditsGuessInput struct {
	RevisionID string   `json:"revision_id"`
	Artists    []string `json:"artists"`
	Title      string   `json:"title"`
}

// CreateCreditsGuess names the artists and title of the turn's track
func (s *GameService) CreateCreditsGuess(ctx context.Context, playerID, gameID string, turnID int, in CreditsGuessInput) (*TurnView, error) {
	return s.turnMutation(ctx, "create_credits_guess", playerID, gameID, turnID, EventCreditsGuessCreated,
		func(g *domain.Game, now time.Time) error {
			_, err := g.CreateCreditsGuess(playerID, turnID, in.RevisionID, in.Artists, in.Title, now)
			return err
		})
}

// PassTurn gives up guessing on the turn
func (s *GameService) PassTurn(ctx context.Context, playerID, gameID string, turnID int) (*TurnView, error) {
	return s.turnMutation(ctx, "pass_turn", playerID, gameID, turnID, EventTurnPassed,
		func(g *domain.Game, now time.Time) error {
			return g.PassTurn(playerID, turnID, now)
		})
}

// ScoreTurn scores the turn
func (s *GameService) ScoreTurn(ctx context.Context, playerID, gameID string, turnID int) (*TurnView, error) {
	return s.turnMutation(ctx, "score_turn", playerID, gameID, turnID, EventTurnScored,
		func(g *domain.Game, now time.Time) error {
			_, err := g.ScoreTurn(playerID, turnID, now)
			return err
		})
}

// ProposeCorrection opens a vote on the turn's release year
func (s *GameService) ProposeCorrection(ctx context.Context, playerID, gameID string, turnID, year int) (*TurnView, error) {
	return s.turnMutation(ctx, "propose_correction", playerID, gameID, turnID, EventCorrectionProposed,
		func(g *domain.Game, now time.Time) error {
			_, err := g.ProposeCorrection(playerID, turnID, year, now)
			return err
		})
}

// VoteCorrection votes on the open correction
func (s *GameService) VoteCorrection(ctx context.Context, playerID, gameID string, turnID int, agree bool) (*TurnView, error) {
	return s.turnMutation(ctx, "vote_correction", playerID, gameID, turnID, EventCorrectionVoted,
		func(g *domain.Game, now time.Time) error {
			_, err := g.VoteCorrection(playerID, turnID, agree, now)
			return err
		})
}

// ExchangeTrack swaps the turn's track
func (s *GameService) ExchangeTrack(ctx context.Context, playerID, gameID string, turnID int) (*TurnView, error) {
	var view *TurnView
	_, err := s.mutate(ctx, "exchange_track", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		turn, err := g.ExchangeTrack(playerID, turnID, s.ids.NewID(), s.picker(ctx, g))
		if err != nil {
			return err
		}
		view = NewTurnView(turnID, turn)
		notifyOthers(sc, g, playerID, turnNotification(EventTrackExchanged, g, playerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// turnMutation runs a change of the active turn and notifies the others with the new turn projection
func (s *GameService) turnMutation(ctx context.Context, name, playerID, gameID string, turnID int, event string, fn func(g *domain.Game, now time.Time) error) (*TurnView, error) {
	var view *TurnView
	_, err := s.mutate(ctx, name, playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		if err := fn(g, now); err != nil {
			return err
		}
		turn, _ := g.ActiveTurn()
		view = NewTurnView(turnID, turn)
		notifyOthers(sc, g, playerID, turnNotification(event, g, playerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// CompleteTurn confirms the scored turn, possibly ending the game
func (s *GameService) CompleteTurn(ctx context.Context, playerID, gameID string, turnID int) (*GameView, error) {
	g, err := s.mutate(ctx, "complete_turn", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		res, err := g.CompleteTurn(playerID, turnID, now)
		if err != nil {
			return err
		}
		notifyOthers(sc, g, playerID, turnNotification(EventTurnCompleted, g, playerID))
		if res.GameCompleted {
			notifyOthers(sc, g, playerID, gameNotification(EventGameCompleted, g))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if g.State == domain.GameStateCompleted {
		s.logger.Info("Game completed", "game_id", gameID)
	}
	return NewGameView(g), nil
}

// BuyTrack spends tokens on an extra timeline track
func (s *GameService) BuyTrack(ctx context.Context, playerID, gameID string) (*GameView, error) {
	g, err := s.mutate(ctx, "buy_track", playerID, gameID, func(ctx context.Context, sc *usecase.Scope, g *domain.Game, now time.Time) error {
		track, err := g.BuyTrack(playerID, s.picker(ctx, g))
		if err != nil {
			return err
		}
		notifyOthers(sc, g, playerID, notify.Notification{
			Type:    EventTrackBought,
			Payload: TrackPayload{GameID: g.ID, PlayerID: playerID, Track: track},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewGameView(g), nil
}
