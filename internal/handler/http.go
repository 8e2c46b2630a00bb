package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/timeline-party/internal/discord"
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/notify"
	"github.com/timeline-party/internal/service"
	"github.com/timeline-party/internal/sse"
	"github.com/timeline-party/internal/websocket"
)

// PlayerHeader carries the pre-authenticated caller id
const PlayerHeader = "X-Player-ID"

type playerKey struct{}

// Config holds the dependencies of the HTTP handler
type Config struct {
	Games    *service.GameService
	Hub      *websocket.Hub
	Registry *notify.Registry
	// Discord is optional
	Discord *discord.Relay
	// Ready reports whether the backing stores are reachable
	Ready          func(ctx context.Context) error
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Handler provides HTTP handlers for the game API
type Handler struct {
	games    *service.GameService
	hub      *websocket.Hub
	registry *notify.Registry
	discord  *discord.Relay
	ready    func(ctx context.Context) error
	origins  []string
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(cfg Config) *Handler {
	ready := cfg.Ready
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &Handler{
		games:    cfg.Games,
		hub:      cfg.Hub,
		registry: cfg.Registry,
		discord:  cfg.Discord,
		ready:    ready,
		origins:  cfg.AllowedOrigins,
		logger:   cfg.Logger,
	}
}

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code    domain.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/channels/stats", h.GetChannelStats)

		r.Group(func(r chi.Router) {
			r.Use(h.requirePlayer)

			r.Post("/games", h.CreateGame)
			r.Route("/games/{gameID}", func(r chi.Router) {
				r.Get("/", h.GetGame)
				r.Post("/join", h.JoinGame)
				r.Post("/leave", h.LeaveGame)
				r.Post("/start", h.StartGame)
				r.Post("/abort", h.AbortGame)
				r.Post("/tracks/buy", h.BuyTrack)

				r.Post("/turns", h.CreateTurn)
				r.Route("/turns/{turnID}", func(r chi.Router) {
					r.Post("/release-year-guesses", h.CreateReleaseYearGuess)
					r.Post("/credits-guesses", h.CreateCreditsGuess)
					r.Post("/pass", h.PassTurn)
					r.Post("/score", h.ScoreTurn)
					r.Post("/corrections", h.ProposeCorrection)
					r.Post("/corrections/votes", h.VoteCorrection)
					r.Post("/complete", h.CompleteTurn)
					r.Post("/exchange", h.ExchangeTrack)
				})

				// notification channels
				r.Get("/ws", h.HandleWebSocket)
				r.Get("/events", h.HandleEvents)
				r.Post("/channels/discord", h.SubscribeDiscord)
				r.Delete("/channels/discord", h.UnsubscribeDiscord)
			})
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(h.origins) > 0 {
			origin = ""
			if o := r.Header.Get("Origin"); slices.Contains(h.origins, o) {
				origin = o
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID, "+PlayerHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requirePlayer rejects requests without a player id
func (h *Handler) requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID := r.Header.Get(PlayerHeader)
		if playerID == "" {
			h.writeError(w, r, domain.ErrInvalidRequest.WithDetails(map[string]any{"header": PlayerHeader}))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), playerKey{}, playerID)))
	})
}

func playerID(r *http.Request) string {
	id, _ := r.Context().Value(playerKey{}).(string)
	return id
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, APIResponse{Status: "ok", Data: data})
}

// writeError maps business errors to their status and hides everything else
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	derr, ok := domain.AsError(err)
	if !ok || derr.Code == domain.CodeInternal {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		derr = domain.ErrInternal
	}
	h.writeJSON(w, derr.Code.HTTPStatus(), APIResponse{
		Status: "error",
		Error:  &ErrorBody{Code: derr.Code, Message: derr.Message, Details: derr.Details},
	})
}

func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Wrap(domain.CodeInvalidRequest, "malformed request body", err)
	}
	return nil
}

func turnID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "turnID"))
	if err != nil || id < 0 {
		return 0, domain.ErrInvalidRequest.WithDetails(map[string]any{"turn_id": chi.URLParam(r, "turnID")})
	}
	return id, nil
}

// respond renders the result of a use case
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, status, data)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Status: "error",
			Error:  &ErrorBody{Code: domain.CodeInternal, Message: "not ready"},
		})
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GetChannelStats returns notification channel statistics
func (h *Handler) GetChannelStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"registry":              h.registry.Stats(),
		"websocket_connections": h.hub.Connections(),
	})
}

// CreateGame creates a game with the caller as game master
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var settings domain.GameSettings
	if err := h.decode(r, &settings); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.games.CreateGame(r.Context(), playerID(r), settings)
	h.respond(w, r, http.StatusCreated, view, err)
}

// GetGame returns the game projection
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.games.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	h.respond(w, r, http.StatusOK, view, err)
}

// JoinGame adds the caller to the game
func (h *Handler) JoinGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.games.JoinGame(r.Context(), playerID(r), chi.URLParam(r, "gameID"))
	h.respond(w, r, http.StatusOK, view, err)
}

// LeaveGame removes the caller from the game
func (h *Handler) LeaveGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.games.LeaveGame(r.Context(), playerID(r), chi.URLParam(r, "gameID"))
	h.respond(w, r, http.StatusOK, view, err)
}

// StartGame deals the starting tracks
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.games.StartGame(r.Context(), playerID(r), chi.URLParam(r, "gameID"))
	h.respond(w, r, http.StatusOK, view, err)
}

// AbortGame ends the game
func (h *Handler) AbortGame(w http.ResponseWriter, r *http.Request) {
	view, err := h.games.AbortGame(r.Context(), playerID(r), chi.URLParam(r, "gameID"))
	h.respond(w, r, http.StatusOK, view, err)
}

// BuyTrack buys a timeline track for the caller
func (h *Handler) BuyTrack(w http.ResponseWriter, r *http.Request) {
	view, err := h.games.BuyTrack(r.Context(), playerID(r), chi.URLParam(r, "gameID"))
	h.respond(w, r, http.StatusOK, view, err)
}

// CreateTurn opens the next turn
func (h *Handler) CreateTurn(w http.ResponseWriter, r *http.Request) {
	view, err := h.games.CreateTurn(r.Context(), playerID(r), chi.URLParam(r, "gameID"))
	h.respond(w, r, http.StatusCreated, view, err)
}

// turnAction runs a use case addressed at one turn
func (h *Handler) turnAction(w http.ResponseWriter, r *http.Request, status int, fn func(ctx context.Context, player, game string, turn int) (*service.TurnView, error)) {
	id, err := turnID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := fn(r.Context(), playerID(r), chi.URLParam(r, "gameID"), id)
	h.respond(w, r, status, view, err)
}

// CreateReleaseYearGuess places the turn's track
func (h *Handler) CreateReleaseYearGuess(w http.ResponseWriter, r *http.Request) {
	var in service.ReleaseYearGuessInput
	if err := h.decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.turnAction(w, r, http.StatusCreated, func(ctx context.Context, player, game string, turn int) (*service.TurnView, error) {
		return h.games.CreateReleaseYearGuess(ctx, player, game, turn, in)
	})
}

// CreateCreditsGuess names the turn's artists and title
func (h *Handler) CreateCreditsGuess(w http.ResponseWriter, r *http.Request) {
	var in service.CreditsGuessInput
	if err := h.decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.turnAction(w, r, http.StatusCreated, func(ctx context.Context, player, game string, turn int) (*service.TurnView, error) {
		return h.games.CreateCreditsGuess(ctx, player, game, turn, in)
	})
}

// PassTurn passes on the turn
func (h *Handler) PassTurn(w http.ResponseWriter, r *http.Request) {
	h.turnAction(w, r, http.StatusOK, h.games.PassTurn)
}

// ScoreTurn scores the turn
func (h *Handler) ScoreTurn(w http.ResponseWriter, r *http.Request) {
	h.turnAction(w, r, http.StatusOK, h.games.ScoreTurn)
}

// ExchangeTrack swaps the turn's track
func (h *Handler) ExchangeTrack(w http.ResponseWriter, r *http.Request) {
	h.turnAction(w, r, http.StatusOK, h.games.ExchangeTrack)
}

// ProposeCorrection opens a release year vote
func (h *Handler) ProposeCorrection(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ReleaseYear int `json:"release_year"`
	}
	if err := h.decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.turnAction(w, r, http.StatusCreated, func(ctx context.Context, player, game string, turn int) (*service.TurnView, error) {
		return h.games.ProposeCorrection(ctx, player, game, turn, in.ReleaseYear)
	})
}

// VoteCorrection votes on the open correction
func (h *Handler) VoteCorrection(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Agree *bool `json:"agree"`
	}
	if err := h.decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.Agree == nil {
		h.writeError(w, r, domain.ErrInvalidRequest.WithDetails(map[string]any{"field": "agree"}))
		return
	}
	h.turnAction(w, r, http.StatusCreated, func(ctx context.Context, player, game string, turn int) (*service.TurnView, error) {
		return h.games.VoteCorrection(ctx, player, game, turn, *in.Agree)
	})
}

// CompleteTurn confirms the scored turn
func (h *Handler) CompleteTurn(w http.ResponseWriter, r *http.Request) {
	id, err := turnID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.games.CompleteTurn(r.Context(), playerID(r), chi.URLParam(r, "gameID"), id)
	h.respond(w, r, http.StatusOK, view, err)
}

// channelKey checks the caller's membership and returns its notification key
func (h *Handler) channelKey(r *http.Request) (notify.Key, error) {
	key := notify.Key{GameID: chi.URLParam(r, "gameID"), PlayerID: playerID(r)}
	if err := h.games.IsPlayer(r.Context(), key.GameID, key.PlayerID); err != nil {
		return notify.Key{}, err
	}
	return key, nil
}

// HandleWebSocket upgrades to a websocket notification channel
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	key, err := h.channelKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.hub.Serve(w, r, key)
}

// HandleEvents streams notifications as server-sent events
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	key, err := h.channelKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sse.Serve(w, r, h.registry, key, h.logger)
}

var errDiscordDisabled = domain.NewError(domain.CodeInvalidRequest, "discord relay is disabled")

// SubscribeDiscord relays the caller's notifications to a Discord channel
func (h *Handler) SubscribeDiscord(w http.ResponseWriter, r *http.Request) {
	if h.discord == nil {
		h.writeError(w, r, errDiscordDisabled)
		return
	}
	var in struct {
		ChannelID string `json:"channel_id"`
	}
	if err := h.decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.ChannelID == "" {
		h.writeError(w, r, domain.ErrInvalidRequest.WithDetails(map[string]any{"field": "channel_id"}))
		return
	}
	key, err := h.channelKey(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.discord.Subscribe(key, in.ChannelID)
	h.writeSuccess(w, http.StatusCreated, map[string]string{"channel_id": in.ChannelID})
}

// UnsubscribeDiscord stops the Discord relay of the caller
func (h *Handler) UnsubscribeDiscord(w http.ResponseWriter, r *http.Request) {
	if h.discord == nil {
		h.writeError(w, r, errDiscordDisabled)
		return
	}
	key := notify.Key{GameID: chi.URLParam(r, "gameID"), PlayerID: playerID(r)}
	h.discord.Unsubscribe(key)
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}
