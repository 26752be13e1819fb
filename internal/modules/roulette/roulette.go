// Package roulette runs the self-mute games: a round of russian roulette and
// an outright self-ban, both ending in a one minute mute.
package roulette

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/mute"
	"stakan-guard/internal/storage"
	"stakan-guard/internal/telemetry"
)

const (
	KindClick    = "roulette.click"
	KindBang     = "roulette.bang"
	KindSelfBan  = "roulette.self_ban"
	SourceGame   = "roulette"
	SourceSelf   = "self_ban"
	gameRoulette = "roulette"
	gameSelfBan  = "self_ban"
)

// Muter is the part of the mute manager the games need.
type Muter interface {
	SelfMute(ctx context.Context, req mute.Request) (storage.Mute, error)
	ReleaseExpired(ctx context.Context, guildID, userID string) (bool, error)
}

type Config struct {
	Chambers     int
	MuteDuration time.Duration
	SpinReason   string
	SelfReason   string
}

func (c Config) withDefaults() Config {
	if c.Chambers <= 1 {
		c.Chambers = 6
	}
	if c.MuteDuration <= 0 {
		c.MuteDuration = time.Minute
	}
	if c.SpinReason == "" {
		c.SpinReason = "Русская рулетка"
	}
	if c.SelfReason == "" {
		c.SelfReason = "Допизделся, дядя!"
	}
	return c
}

type Game struct {
	config   Config
	mutes    Muter
	notifier moderation.Notifier
	clock    moderation.Clock
	logger   *zap.Logger
	intn     func(n int) int
}

func New(cfg Config, mutes Muter, notifier moderation.Notifier, clock moderation.Clock, logger *zap.Logger) *Game {
	if notifier == nil {
		notifier = moderation.NopNotifier{}
	}
	if clock == nil {
		clock = moderation.SystemClock()
	}
	return &Game{
		config:   cfg.withDefaults(),
		mutes:    mutes,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		intn:     rand.IntN,
	}
}

// Spin pulls the trigger once. One chamber in Chambers is loaded; a member
// who hits it is muted for MuteDuration. The result reports the shot.
func (g *Game) Spin(ctx context.Context, guildID, channelID, userID string) (dead bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "roulette.Spin", guildID, attribute.String("user_id", userID))
	defer func() { telemetry.End(span, err) }()

	chamber := g.intn(g.config.Chambers) + 1
	if chamber != g.config.Chambers {
		telemetry.RouletteSpins.WithLabelValues(gameRoulette, "click").Inc()
		g.notify(ctx, guildID, channelID, userID, KindClick)
		g.logger.Debug("roulette click", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Int("chamber", chamber))
		return false, nil
	}

	telemetry.RouletteSpins.WithLabelValues(gameRoulette, "bang").Inc()
	g.notify(ctx, guildID, channelID, userID, KindBang)
	return true, g.penalize(ctx, guildID, channelID, userID, g.config.SpinReason, SourceGame)
}

// SelfBan mutes the member who asked for it.
func (g *Game) SelfBan(ctx context.Context, guildID, channelID, userID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "roulette.SelfBan", guildID, attribute.String("user_id", userID))
	defer func() { telemetry.End(span, err) }()

	telemetry.RouletteSpins.WithLabelValues(gameSelfBan, "bang").Inc()
	g.notify(ctx, guildID, channelID, userID, KindSelfBan)
	return g.penalize(ctx, guildID, channelID, userID, g.config.SelfReason, SourceSelf)
}

// penalize stores a short mute and lifts it from a timer. The sweep lifts it
// anyway if the process stops before the timer fires.
func (g *Game) penalize(ctx context.Context, guildID, channelID, userID, reason, source string) error {
	record, err := g.mutes.SelfMute(ctx, mute.Request{
		GuildID:   guildID,
		ChannelID: channelID,
		TargetID:  userID,
		Duration:  g.config.MuteDuration,
		Reason:    reason,
		Source:    source,
	})
	if err != nil {
		if errors.Is(err, moderation.ErrAlreadyMuted) {
			g.logger.Info("self mute skipped, member already muted", zap.String("guild_id", guildID), zap.String("user_id", userID))
		}
		return err
	}
	g.clock.AfterFunc(record.ExpiresAt.Sub(g.clock.Now()), func() { g.release(guildID, userID) })
	return nil
}

func (g *Game) release(guildID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := g.mutes.ReleaseExpired(ctx, guildID, userID); err != nil {
		g.logger.Warn("failed to lift self mute, leaving it to the sweep", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	}
}

func (g *Game) notify(ctx context.Context, guildID, channelID, userID, kind string) {
	g.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   guildID,
		ChannelID: channelID,
		Kind:      kind,
		Fields:    []moderation.Field{{Name: "user_id", Value: userID}},
	})
}
