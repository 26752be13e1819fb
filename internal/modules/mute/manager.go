// Package mute applies and lifts timed mutes. Every mute is persisted so the
// periodic sweep can lift it after a restart.
package mute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/storage"
	"stakan-guard/internal/telemetry"
	"stakan-guard/internal/utils"
)

// Notification kinds.
const (
	KindMuted   = "mute.muted"
	KindUnmuted = "mute.unmuted"
	KindExpired = "mute.expired"
)

const (
	SourceCommand    = "command"
	SourceEscalation = "escalation"
)

const expiredReason = "mute expired"

type Store interface {
	GetMute(ctx context.Context, guildID, userID string) (*storage.Mute, error)
	PutMute(ctx context.Context, mute storage.Mute) error
	DeleteMute(ctx context.Context, guildID, userID string) error
	ListMutes(ctx context.Context) ([]storage.Mute, error)
	ListExpiredMutes(ctx context.Context, now time.Time) ([]storage.Mute, error)
}

// MassMutes lifts a member out of in-memory mass mutes, which keep no record.
type MassMutes interface {
	LiftMember(ctx context.Context, guildID, userID, reason string) (bool, error)
}

type Request struct {
	GuildID   string
	ChannelID string
	ActorID   string
	TargetID  string
	Duration  time.Duration
	Reason    string
	Source    string
}

type Manager struct {
	store    Store
	roles    moderation.Roles
	authz    moderation.Authorizer
	notifier moderation.Notifier
	audit    *audit.Logger
	clock    moderation.Clock
	logger   *zap.Logger
	mass     MassMutes
}

func NewManager(store Store, roles moderation.Roles, authz moderation.Authorizer, notifier moderation.Notifier, auditLogger *audit.Logger, clock moderation.Clock, logger *zap.Logger) *Manager {
	if notifier == nil {
		notifier = moderation.NopNotifier{}
	}
	if clock == nil {
		clock = moderation.SystemClock()
	}
	return &Manager{
		store:    store,
		roles:    roles,
		authz:    authz,
		notifier: notifier,
		audit:    auditLogger,
		clock:    clock,
		logger:   logger,
	}
}

// SetMassMutes lets Unmute lift members held only by a mass mute.
func (m *Manager) SetMassMutes(mass MassMutes) {
	m.mass = mass
}

// MuteToken parses a duration token such as "30m" and mutes for that long.
func (m *Manager) MuteToken(ctx context.Context, req Request, token string) (storage.Mute, error) {
	seconds, err := utils.ParseDuration(token)
	if err != nil {
		return storage.Mute{}, err
	}
	if seconds > utils.MaxDurationSeconds {
		return storage.Mute{}, fmt.Errorf("%w: duration %q out of range", moderation.ErrInvalidInput, token)
	}
	req.Duration = time.Duration(seconds) * time.Second
	return m.Mute(ctx, req)
}

// Mute grants the muted role and stores the record. Muting an already muted
// member replaces the expiry and reason.
func (m *Manager) Mute(ctx context.Context, req Request) (record storage.Mute, err error) {
	ctx, span := telemetry.StartSpan(ctx, "mute.Mute", req.GuildID, attribute.String("target_id", req.TargetID), attribute.String("source", req.Source))
	defer func() { telemetry.End(span, err) }()

	if req.Duration < 0 {
		return storage.Mute{}, fmt.Errorf("%w: negative duration", moderation.ErrInvalidInput)
	}
	if err := m.authorize(ctx, req.GuildID, req.ActorID, req.TargetID); err != nil {
		return storage.Mute{}, err
	}
	previous, err := m.store.GetMute(ctx, req.GuildID, req.TargetID)
	if err != nil {
		return storage.Mute{}, err
	}
	return m.apply(ctx, req, previous)
}

// SelfMute mutes a member at their own request, as the roulette does. It
// needs no moderator rights and never touches an existing mute, so a game
// cannot shorten a moderator's penalty.
func (m *Manager) SelfMute(ctx context.Context, req Request) (record storage.Mute, err error) {
	ctx, span := telemetry.StartSpan(ctx, "mute.SelfMute", req.GuildID, attribute.String("target_id", req.TargetID), attribute.String("source", req.Source))
	defer func() { telemetry.End(span, err) }()

	if req.Duration <= 0 {
		return storage.Mute{}, fmt.Errorf("%w: non-positive duration", moderation.ErrInvalidInput)
	}
	existing, err := m.store.GetMute(ctx, req.GuildID, req.TargetID)
	if err != nil {
		return storage.Mute{}, err
	}
	if existing != nil {
		return storage.Mute{}, moderation.ErrAlreadyMuted
	}
	req.ActorID = req.TargetID
	return m.apply(ctx, req, nil)
}

// apply grants the role and persists the record. previous is the record the
// new one replaces, if any.
func (m *Manager) apply(ctx context.Context, req Request, previous *storage.Mute) (storage.Mute, error) {
	if err := m.roles.GrantMuted(ctx, req.GuildID, req.TargetID, req.Reason); err != nil {
		return storage.Mute{}, fmt.Errorf("grant muted role to %s: %w", req.TargetID, err)
	}

	record := storage.Mute{
		GuildID:   req.GuildID,
		UserID:    req.TargetID,
		ExpiresAt: ceilMillis(m.clock.Now().Add(req.Duration)),
		Reason:    req.Reason,
	}
	if err := m.store.PutMute(ctx, record); err != nil {
		// Without a record nothing would ever lift the role. An existing record
		// still expires on its old schedule, so the role stays in that case.
		if previous == nil {
			if revokeErr := m.roles.RevokeMuted(ctx, req.GuildID, req.TargetID, "mute not recorded"); revokeErr != nil {
				m.logger.Error("muted role left without a record", zap.String("guild_id", req.GuildID), zap.String("user_id", req.TargetID), zap.Error(revokeErr))
			} else {
				m.logger.Warn("rolled back mute after store failure", zap.String("guild_id", req.GuildID), zap.String("user_id", req.TargetID), zap.Error(err))
			}
		}
		return storage.Mute{}, fmt.Errorf("store mute of %s: %w", req.TargetID, err)
	}

	source := req.Source
	if source == "" {
		source = SourceCommand
	}
	telemetry.MutesApplied.WithLabelValues(source).Inc()

	duration := utils.FormatDuration(req.Duration)
	m.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		Kind:      KindMuted,
		Fields: []moderation.Field{
			{Name: "user_id", Value: req.TargetID},
			{Name: "duration", Value: duration},
			{Name: "reason", Value: req.Reason},
			{Name: "source", Value: source},
		},
	})
	event := audit.EventMute
	if req.ActorID == req.TargetID {
		event = audit.EventSelfMute
	}
	m.auditLog(ctx, audit.LevelWarn, req.GuildID, req.TargetID, event, fmt.Sprintf("by=%s duration=%s source=%s reason=%s", req.ActorID, duration, source, req.Reason))
	m.logger.Info("member muted", zap.String("guild_id", req.GuildID), zap.String("user_id", req.TargetID), zap.Duration("duration", req.Duration), zap.String("source", source))
	return record, nil
}

// Unmute lifts an active mute. A member without a record yields ErrNotMuted
// and no role change.
func (m *Manager) Unmute(ctx context.Context, guildID, channelID, actorID, targetID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "mute.Unmute", guildID, attribute.String("target_id", targetID))
	defer func() { telemetry.End(span, err) }()

	if err := m.authorize(ctx, guildID, actorID, targetID); err != nil {
		if errors.Is(err, moderation.ErrNotFound) {
			return m.dropDeparted(ctx, guildID, actorID, targetID, err)
		}
		return err
	}
	record, err := m.store.GetMute(ctx, guildID, targetID)
	if err != nil {
		return err
	}
	if record == nil {
		return m.unmuteMassMuted(ctx, guildID, channelID, actorID, targetID)
	}

	if err := m.roles.RevokeMuted(ctx, guildID, targetID, "unmuted by "+actorID); err != nil {
		if errors.Is(err, moderation.ErrNotFound) {
			return m.dropDeparted(ctx, guildID, actorID, targetID, err)
		}
		return fmt.Errorf("revoke muted role from %s: %w", targetID, err)
	}
	if err := m.store.DeleteMute(ctx, guildID, targetID); err != nil {
		return err
	}

	telemetry.MutesLifted.WithLabelValues("manual").Inc()
	m.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   guildID,
		ChannelID: channelID,
		Kind:      KindUnmuted,
		Fields:    []moderation.Field{{Name: "user_id", Value: targetID}},
	})
	m.auditLog(ctx, audit.LevelInfo, guildID, targetID, audit.EventUnmute, "by="+actorID)
	return nil
}

// unmuteMassMuted lifts a member muted by a bomb explosion or a channel mute.
// Without such a hold the member is not muted at all.
func (m *Manager) unmuteMassMuted(ctx context.Context, guildID, channelID, actorID, targetID string) error {
	if m.mass == nil {
		return moderation.ErrNotMuted
	}
	lifted, err := m.mass.LiftMember(ctx, guildID, targetID, "unmuted by "+actorID)
	if err != nil {
		return err
	}
	if !lifted {
		return moderation.ErrNotMuted
	}
	m.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   guildID,
		ChannelID: channelID,
		Kind:      KindUnmuted,
		Fields:    []moderation.Field{{Name: "user_id", Value: targetID}},
	})
	m.auditLog(ctx, audit.LevelInfo, guildID, targetID, audit.EventUnmute, "by="+actorID+" mass mute")
	return nil
}

// dropDeparted handles an unmute of a member who is no longer in the guild.
// The actor still needs moderator rights; the record is deleted and cause is
// returned so the caller reports the missing member.
func (m *Manager) dropDeparted(ctx context.Context, guildID, actorID, targetID string, cause error) error {
	if m.authz != nil {
		decision, err := m.authz.CanInvoke(ctx, guildID, actorID)
		if err != nil {
			return err
		}
		if err := decision.Err(); err != nil {
			return err
		}
	}
	record, err := m.store.GetMute(ctx, guildID, targetID)
	if err != nil {
		return err
	}
	if record == nil {
		return cause
	}
	if err := m.store.DeleteMute(ctx, guildID, targetID); err != nil {
		return err
	}
	m.logger.Info("dropped mute of member who left", zap.String("guild_id", guildID), zap.String("user_id", targetID), zap.String("actor_id", actorID))
	m.auditLog(ctx, audit.LevelInfo, guildID, targetID, audit.EventUnmute, "by="+actorID+" member left")
	return fmt.Errorf("unmute %s: %w", targetID, cause)
}

func (m *Manager) IsMuted(ctx context.Context, guildID, userID string) (bool, error) {
	record, err := m.store.GetMute(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// ReleaseExpired lifts the mute of one member if it has expired. Short
// self-mutes call it from a timer instead of waiting for the next sweep; a
// record that was extended in the meantime is left alone.
func (m *Manager) ReleaseExpired(ctx context.Context, guildID, userID string) (bool, error) {
	record, err := m.store.GetMute(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	if record == nil || !record.Expired(m.clock.Now()) {
		return false, nil
	}
	var report SweepReport
	if err := m.release(ctx, *record, &report); err != nil {
		return false, err
	}
	return true, nil
}

type SweepReport struct {
	Released int
	Missing  int
	Failed   int
	Pending  int
}

// Sweep lifts every mute whose expiry has passed. Members who left have their
// record dropped. Any other failure keeps the record for the next sweep and
// is folded into the returned error; the batch always runs to the end.
func (m *Manager) Sweep(ctx context.Context) (report SweepReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, "mute.Sweep", "")
	defer func() { telemetry.End(span, err) }()
	start := time.Now()
	defer telemetry.ObserveSince(telemetry.SweepDuration, start)

	now := m.clock.Now()
	expired, err := m.store.ListExpiredMutes(ctx, now)
	if err != nil {
		return report, err
	}

	var errs error
	for _, record := range expired {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		if err := m.release(ctx, record, &report); err != nil {
			report.Failed++
			telemetry.SweepFailures.Inc()
			m.logger.Warn("failed to lift expired mute", zap.String("guild_id", record.GuildID), zap.String("user_id", record.UserID), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	if remaining, err := m.store.ListMutes(ctx); err == nil {
		report.Pending = len(remaining)
		telemetry.ActiveMutes.Set(float64(len(remaining)))
	} else {
		errs = multierr.Append(errs, err)
	}
	if report.Released > 0 || report.Missing > 0 || report.Failed > 0 {
		m.logger.Info("mute sweep finished", zap.Int("released", report.Released), zap.Int("missing", report.Missing), zap.Int("failed", report.Failed), zap.Int("pending", report.Pending))
	}
	return report, errs
}

func (m *Manager) release(ctx context.Context, record storage.Mute, report *SweepReport) error {
	missing := false
	if err := m.roles.RevokeMuted(ctx, record.GuildID, record.UserID, expiredReason); err != nil {
		if !errors.Is(err, moderation.ErrNotFound) {
			return fmt.Errorf("release %s/%s: %w", record.GuildID, record.UserID, err)
		}
		missing = true
	}
	if err := m.store.DeleteMute(ctx, record.GuildID, record.UserID); err != nil {
		return fmt.Errorf("release %s/%s: %w", record.GuildID, record.UserID, err)
	}

	if missing {
		report.Missing++
		m.logger.Info("dropped mute of member who left", zap.String("guild_id", record.GuildID), zap.String("user_id", record.UserID))
		return nil
	}
	report.Released++
	telemetry.MutesLifted.WithLabelValues("expired").Inc()
	m.notifier.Notify(ctx, moderation.Notification{
		Surface: moderation.SurfaceModLog,
		GuildID: record.GuildID,
		Kind:    KindExpired,
		Fields:  []moderation.Field{{Name: "user_id", Value: record.UserID}},
	})
	m.auditLog(ctx, audit.LevelInfo, record.GuildID, record.UserID, audit.EventMuteExpired, record.Reason)
	return nil
}

func (m *Manager) authorize(ctx context.Context, guildID, actorID, targetID string) error {
	if m.authz == nil {
		return nil
	}
	decision, err := m.authz.CanModerate(ctx, guildID, actorID, targetID)
	if err != nil {
		return err
	}
	return decision.Err()
}

func (m *Manager) auditLog(ctx context.Context, level, guildID, userID, event, details string) {
	if m.audit != nil {
		m.audit.Log(ctx, level, guildID, userID, event, details)
	}
}

// ceilMillis rounds t up to the millisecond the store keeps, so a stored
// expiry is never earlier than the requested one.
func ceilMillis(t time.Time) time.Time {
	truncated := t.Truncate(time.Millisecond)
	if truncated.Before(t) {
		return truncated.Add(time.Millisecond)
	}
	return truncated
}
