// Package discord relays game notifications into Discord text channels.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/timeline-party/internal/notify"
)

//go:generate mockgen -package=mocks -destination=mocks/mock_sender.go github.com/timeline-party/internal/discord MessageSender
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds the configuration for the relay
type Config struct {
	// Sender defaults to a bot session created from Token
	Sender   MessageSender
	Token    string
	Registry *notify.Registry
	Logger   *slog.Logger
}

// Relay binds (game, player) keys to Discord channels
type Relay struct {
	sender   MessageSender
	session  *discordgo.Session
	registry *notify.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	channels map[notify.Key]*Channel
}

// New creates a relay
func New(cfg *Config) (*Relay, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	r := &Relay{
		sender:   cfg.Sender,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		channels: make(map[notify.Key]*Channel),
	}
	if r.sender == nil {
		if cfg.Token == "" {
			return nil, errors.New("token cannot be empty")
		}
		session, err := discordgo.New("Bot " + cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create Discord session: %w", err)
		}
		r.session = session
		r.sender = session
	}
	return r, nil
}

// Start opens the gateway connection when the relay owns a bot session
func (r *Relay) Start() error {
	if r.session == nil {
		return nil
	}
	if err := r.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	return nil
}

// Stop closes the gateway connection
func (r *Relay) Stop() error {
	if r.session == nil {
		return nil
	}
	return r.session.Close()
}

// Subscribe relays the key's notifications to the Discord channel, replacing
// any previous binding of the key
func (r *Relay) Subscribe(key notify.Key, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.channels[key]; ok {
		r.registry.Unregister(key, old)
	}
	ch := &Channel{relay: r, channelID: channelID}
	r.channels[key] = ch
	r.registry.Register(key, ch)
	r.logger.Info("Discord channel subscribed", "game_id", key.GameID, "player_id", key.PlayerID, "channel_id", channelID)
}

// Unsubscribe stops relaying the key's notifications
func (r *Relay) Unsubscribe(key notify.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[key]; ok {
		r.registry.Unregister(key, ch)
		delete(r.channels, key)
	}
}

// Channel posts notifications into one Discord text channel
type Channel struct {
	relay     *Relay
	channelID string
}

// Send renders the notification as an embed
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var n struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("decoding notification: %w", err)
	}

	_, err := c.relay.sender.ChannelMessageSendComplex(c.channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{render(n.Type, n.Payload)},
	})
	if err != nil {
		c.relay.logger.Warn("Failed to post to Discord", "channel_id", c.channelID, "error", err)
		return fmt.Errorf("%w: %v", notify.ErrDisconnected, err)
	}
	return nil
}

func render(typ string, payload json.RawMessage) *discordgo.MessageEmbed {
	var p struct {
		GameID   string `json:"game_id"`
		PlayerID string `json:"player_id"`
		Game     *struct {
			ID string `json:"id"`
		} `json:"game"`
	}
	_ = json.Unmarshal(payload, &p)
	gameID := p.GameID
	if gameID == "" && p.Game != nil {
		gameID = p.Game.ID
	}

	embed := &discordgo.MessageEmbed{
		Title: strings.ReplaceAll(typ, "_", " "),
		Color: 0x1DB954,
	}
	if gameID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Game", Value: gameID, Inline: true})
	}
	if p.PlayerID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Player", Value: p.PlayerID, Inline: true})
	}
	return embed
}
