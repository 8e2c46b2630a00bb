package service

import (
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/notify"
)

// Notification types
const (
	EventPlayerJoined            = "player_joined"
	EventPlayerLeft              = "player_left"
	EventGameStarted             = "game_started"
	EventGameAborted             = "game_aborted"
	EventTurnCreated             = "turn_created"
	EventReleaseYearGuessCreated = "release_year_guess_created"
	EventCreditsGuessCreated     = "credits_guess_created"
	EventTurnPassed              = "turn_passed"
	EventTurnScored              = "turn_scored"
	EventCorrectionProposed      = "correction_proposed"
	EventCorrectionVoted         = "correction_voted"
	EventTurnCompleted           = "turn_completed"
	EventGameCompleted           = "game_completed"
	EventTrackBought             = "track_bought"
	EventTrackExchanged          = "track_exchanged"
)

// PlayerPayload announces a membership change
type PlayerPayload struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

// GamePayload carries the whole game projection
type GamePayload struct {
	Game *GameView `json:"game"`
}

// TurnPayload carries a turn projection
type TurnPayload struct {
	GameID   string    `json:"game_id"`
	PlayerID string    `json:"player_id"`
	Turn     *TurnView `json:"turn"`
}

// TrackPayload announces a bought track
type TrackPayload struct {
	GameID   string       `json:"game_id"`
	PlayerID string       `json:"player_id"`
	Track    domain.Track `json:"track"`
}

func playerNotification(typ string, gameID, playerID string) notify.Notification {
	return notify.Notification{Type: typ, Payload: PlayerPayload{GameID: gameID, PlayerID: playerID}}
}

func gameNotification(typ string, g *domain.Game) notify.Notification {
	return notify.Notification{Type: typ, Payload: GamePayload{Game: NewGameView(g)}}
}

func turnNotification(typ string, g *domain.Game, playerID string) notify.Notification {
	turn, _ := g.ActiveTurn()
	return notify.Notification{Type: typ, Payload: TurnPayload{
		GameID:   g.ID,
		PlayerID: playerID,
		Turn:     NewTurnView(len(g.Turns)-1, turn),
	}}
}
