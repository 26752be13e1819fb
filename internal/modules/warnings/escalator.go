package warnings

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/modules/mute"
	"stakan-guard/internal/storage"
	"stakan-guard/internal/telemetry"
)

const (
	KindWarned  = "warnings.warned"
	KindCleared = "warnings.cleared"
)

type Store interface {
	AddWarning(ctx context.Context, warning storage.Warning) error
	ListWarnings(ctx context.Context, guildID, userID string) ([]storage.Warning, error)
	ClearWarnings(ctx context.Context, guildID, userID string) (int64, error)
}

type Muter interface {
	Mute(ctx context.Context, req mute.Request) (storage.Mute, error)
	IsMuted(ctx context.Context, guildID, userID string) (bool, error)
}

type Config struct {
	Threshold    int
	Window       time.Duration
	MuteDuration time.Duration
	MuteReason   string
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.MuteDuration <= 0 {
		c.MuteDuration = 24 * time.Hour
	}
	if c.MuteReason == "" {
		c.MuteReason = fmt.Sprintf("%d warnings within %s", c.Threshold, c.Window)
	}
	return c
}

type Request struct {
	GuildID   string
	ChannelID string
	ActorID   string
	TargetID  string
	Reason    string
}

// Outcome describes a recorded warning. Count is the number of warnings still
// inside the window, the new one included.
type Outcome struct {
	Count     int
	Threshold int
	Escalated bool
	Mute      *storage.Mute
}

type Escalator struct {
	config   Config
	store    Store
	muter    Muter
	authz    moderation.Authorizer
	notifier moderation.Notifier
	audit    *audit.Logger
	clock    moderation.Clock
	logger   *zap.Logger
}

func NewEscalator(cfg Config, store Store, muter Muter, authz moderation.Authorizer, notifier moderation.Notifier, auditLogger *audit.Logger, clock moderation.Clock, logger *zap.Logger) *Escalator {
	if notifier == nil {
		notifier = moderation.NopNotifier{}
	}
	if clock == nil {
		clock = moderation.SystemClock()
	}
	return &Escalator{
		config:   cfg.withDefaults(),
		store:    store,
		muter:    muter,
		authz:    authz,
		notifier: notifier,
		audit:    auditLogger,
		clock:    clock,
		logger:   logger,
	}
}

// Warn records a warning. Reaching the threshold inside the window mutes the
// target and clears all of their warnings. A target who is already muted gets
// ErrAlreadyMuted and no warning.
func (e *Escalator) Warn(ctx context.Context, req Request) (outcome Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "warnings.Warn", req.GuildID, attribute.String("target_id", req.TargetID))
	defer func() { telemetry.End(span, err) }()

	outcome.Threshold = e.config.Threshold
	if err := e.authorize(ctx, req.GuildID, req.ActorID, req.TargetID); err != nil {
		return outcome, err
	}
	muted, err := e.muter.IsMuted(ctx, req.GuildID, req.TargetID)
	if err != nil {
		return outcome, err
	}
	if muted {
		return outcome, moderation.ErrAlreadyMuted
	}

	now := e.clock.Now()
	if err := e.store.AddWarning(ctx, storage.Warning{
		GuildID:     req.GuildID,
		UserID:      req.TargetID,
		ModeratorID: req.ActorID,
		Reason:      req.Reason,
		CreatedAt:   now,
	}); err != nil {
		return outcome, err
	}
	telemetry.WarningsIssued.Inc()

	all, err := e.store.ListWarnings(ctx, req.GuildID, req.TargetID)
	if err != nil {
		return outcome, err
	}
	cutoff := now.Add(-e.config.Window)
	for _, warning := range all {
		if warning.CreatedAt.After(cutoff) {
			outcome.Count++
		}
	}
	e.auditLog(ctx, audit.LevelInfo, req.GuildID, req.TargetID, audit.EventWarn, fmt.Sprintf("by=%s count=%d/%d reason=%s", req.ActorID, outcome.Count, outcome.Threshold, req.Reason))

	if outcome.Count < e.config.Threshold {
		e.notifier.Notify(ctx, moderation.Notification{
			Surface:   moderation.SurfaceChannel,
			GuildID:   req.GuildID,
			ChannelID: req.ChannelID,
			Kind:      KindWarned,
			Fields: []moderation.Field{
				{Name: "user_id", Value: req.TargetID},
				{Name: "reason", Value: req.Reason},
				{Name: "count", Value: fmt.Sprint(outcome.Count)},
				{Name: "threshold", Value: fmt.Sprint(outcome.Threshold)},
			},
		})
		return outcome, nil
	}

	record, err := e.muter.Mute(ctx, mute.Request{
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		ActorID:   req.ActorID,
		TargetID:  req.TargetID,
		Duration:  e.config.MuteDuration,
		Reason:    e.config.MuteReason,
		Source:    mute.SourceEscalation,
	})
	if err != nil {
		return outcome, fmt.Errorf("escalate warnings for %s: %w", req.TargetID, err)
	}
	if _, err := e.store.ClearWarnings(ctx, req.GuildID, req.TargetID); err != nil {
		return outcome, err
	}
	outcome.Escalated = true
	outcome.Mute = &record
	telemetry.Escalations.Inc()
	e.auditLog(ctx, audit.LevelWarn, req.GuildID, req.TargetID, audit.EventWarnEscalated, fmt.Sprintf("count=%d muted_for=%s", outcome.Count, e.config.MuteDuration))
	e.logger.Info("warnings escalated to mute", zap.String("guild_id", req.GuildID), zap.String("user_id", req.TargetID), zap.Int("count", outcome.Count))
	return outcome, nil
}

// RemoveWarnings deletes every warning of target and returns how many there were.
func (e *Escalator) RemoveWarnings(ctx context.Context, guildID, channelID, actorID, targetID string) (removed int64, err error) {
	ctx, span := telemetry.StartSpan(ctx, "warnings.RemoveWarnings", guildID, attribute.String("target_id", targetID))
	defer func() { telemetry.End(span, err) }()

	if err := e.authorize(ctx, guildID, actorID, targetID); err != nil {
		return 0, err
	}
	removed, err = e.store.ClearWarnings(ctx, guildID, targetID)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, moderation.ErrNoWarnings
	}
	e.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   guildID,
		ChannelID: channelID,
		Kind:      KindCleared,
		Fields: []moderation.Field{
			{Name: "user_id", Value: targetID},
			{Name: "removed", Value: fmt.Sprint(removed)},
		},
	})
	e.auditLog(ctx, audit.LevelInfo, guildID, targetID, audit.EventWarningsCleared, fmt.Sprintf("by=%s removed=%d", actorID, removed))
	return removed, nil
}

// ListWarnings returns every stored warning of target, newest first.
func (e *Escalator) ListWarnings(ctx context.Context, guildID, actorID, targetID string) ([]storage.Warning, error) {
	if e.authz != nil {
		decision, err := e.authz.CanInvoke(ctx, guildID, actorID)
		if err != nil {
			return nil, err
		}
		if err := decision.Err(); err != nil {
			return nil, err
		}
	}
	list, err := e.store.ListWarnings(ctx, guildID, targetID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, moderation.ErrNoWarnings
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (e *Escalator) authorize(ctx context.Context, guildID, actorID, targetID string) error {
	if e.authz == nil {
		return nil
	}
	decision, err := e.authz.CanModerate(ctx, guildID, actorID, targetID)
	if err != nil {
		return err
	}
	return decision.Err()
}

func (e *Escalator) auditLog(ctx context.Context, level, guildID, userID, event, details string) {
	if e.audit != nil {
		e.audit.Log(ctx, level, guildID, userID, event, details)
	}
}
