package domain

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error code returned to clients
type Code string

const (
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeInternal       Code = "INTERNAL"
	CodeConflict       Code = "CONFLICT"

	CodeGameNotFound        Code = "GAME_NOT_FOUND"
	CodeInvalidSettings     Code = "INVALID_SETTINGS"
	CodeNotAPlayer          Code = "NOT_A_PLAYER"
	CodeNotGameMaster       Code = "NOT_GAME_MASTER"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeAlreadyJoined       Code = "ALREADY_JOINED"
	CodeGameMasterCantLeave Code = "GAME_MASTER_CANNOT_LEAVE"
	CodeGameAlreadyAborted  Code = "GAME_ALREADY_ABORTED"
	CodeGameAlreadyDone     Code = "GAME_ALREADY_COMPLETED"
	CodePlaylistsExhausted  Code = "PLAYLISTS_EXHAUSTED"

	CodeInactiveTurn         Code = "INACTIVE_TURN"
	CodeTurnRevisionMismatch Code = "TURN_REVISION_MISMATCH"
	CodeTurnNotCompleted     Code = "TURN_NOT_COMPLETED"
	CodeTurnHasGuesses       Code = "TURN_HAS_GUESSES"
	CodeNotActivePlayer      Code = "NOT_ACTIVE_PLAYER"
	CodeActivePlayerCantPass Code = "ACTIVE_PLAYER_CANNOT_PASS"
	CodeAlreadyGuessed       Code = "ALREADY_GUESSED"
	CodeAlreadyPassed        Code = "ALREADY_PASSED"
	CodeAlreadyConfirmed     Code = "ALREADY_CONFIRMED"
	CodeInsufficientTokens   Code = "INSUFFICIENT_TOKENS"
	CodeInvalidPosition      Code = "INVALID_POSITION"
	CodeInvalidYear          Code = "INVALID_YEAR"
	CodeInvalidCredits       Code = "INVALID_CREDITS"

	CodeCorrectionActive   Code = "CORRECTION_ACTIVE"
	CodeCorrectionAccepted Code = "CORRECTION_ALREADY_ACCEPTED"
	CodeCorrectionSameYear Code = "CORRECTION_SAME_YEAR"
	CodeNoActiveCorrection Code = "NO_ACTIVE_CORRECTION"
	CodeCorrectionPending  Code = "CORRECTION_PENDING"
	CodeAlreadyVoted       Code = "ALREADY_VOTED"
)

// HTTPStatus maps an error code to the status used on the wire
func (c Code) HTTPStatus() int {
	switch c {
	case CodeGameNotFound:
		return http.StatusNotFound
	case CodeNotAPlayer, CodeNotGameMaster, CodeNotActivePlayer, CodeGameMasterCantLeave:
		return http.StatusForbidden
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInvalidSettings, CodeInvalidPosition, CodeInvalidYear, CodeInvalidCredits,
		CodeCorrectionSameYear:
		return http.StatusUnprocessableEntity
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		// state, turn, token and voting violations plus optimistic conflicts
		return http.StatusConflict
	}
}

// Error is a business error with a stable code
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// NewError creates a business error
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy of the error carrying extra context
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap creates a business error with an underlying cause
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Domain errors
var (
	ErrInvalidRequest       = NewError(CodeInvalidRequest, "invalid request")
	ErrInternal             = NewError(CodeInternal, "internal server error")
	ErrConflict             = NewError(CodeConflict, "concurrent modification, please retry")
	ErrGameNotFound         = NewError(CodeGameNotFound, "game not found")
	ErrInvalidSettings      = NewError(CodeInvalidSettings, "invalid game settings")
	ErrNotAPlayer           = NewError(CodeNotAPlayer, "not a player of this game")
	ErrNotGameMaster        = NewError(CodeNotGameMaster, "only the game master can do this")
	ErrInvalidState         = NewError(CodeInvalidState, "operation not allowed in the current game state")
	ErrAlreadyJoined        = NewError(CodeAlreadyJoined, "player already joined")
	ErrGameMasterCantLeave  = NewError(CodeGameMasterCantLeave, "the game master cannot leave the game")
	ErrGameAlreadyAborted   = NewError(CodeGameAlreadyAborted, "game already aborted")
	ErrGameAlreadyCompleted = NewError(CodeGameAlreadyDone, "game already completed")
	ErrPlaylistsExhausted   = NewError(CodePlaylistsExhausted, "playlists exhausted")
	ErrInactiveTurn         = NewError(CodeInactiveTurn, "turn is not active")
	ErrTurnRevisionMismatch = NewError(CodeTurnRevisionMismatch, "turn revision does not match")
	ErrTurnNotCompleted     = NewError(CodeTurnNotCompleted, "previous turn is not completed")
	ErrTurnHasGuesses       = NewError(CodeTurnHasGuesses, "turn already has guesses")
	ErrNotActivePlayer      = NewError(CodeNotActivePlayer, "only the active player can do this")
	ErrActivePlayerCantPass = NewError(CodeActivePlayerCantPass, "the active player cannot pass")
	ErrAlreadyGuessed       = NewError(CodeAlreadyGuessed, "player already guessed")
	ErrAlreadyPassed        = NewError(CodeAlreadyPassed, "player already passed")
	ErrAlreadyConfirmed     = NewError(CodeAlreadyConfirmed, "player already completed the turn")
	ErrInsufficientTokens   = NewError(CodeInsufficientTokens, "not enough tokens")
	ErrInvalidPosition      = NewError(CodeInvalidPosition, "invalid timeline position")
	ErrInvalidYear          = NewError(CodeInvalidYear, "invalid release year")
	ErrInvalidCredits       = NewError(CodeInvalidCredits, "artists and title are required")
	ErrCorrectionActive     = NewError(CodeCorrectionActive, "a correction is already being voted on")
	ErrCorrectionAccepted   = NewError(CodeCorrectionAccepted, "a correction was already accepted")
	ErrCorrectionSameYear   = NewError(CodeCorrectionSameYear, "proposed year equals the current release year")
	ErrNoActiveCorrection   = NewError(CodeNoActiveCorrection, "no correction is being voted on")
	ErrCorrectionPending    = NewError(CodeCorrectionPending, "a correction vote is still pending")
	ErrAlreadyVoted         = NewError(CodeAlreadyVoted, "player already voted")
)

// AsError extracts a business error from an error chain
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrGameNotFound)
}
