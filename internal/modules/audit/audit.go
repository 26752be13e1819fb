package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/storage"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventMute            = "mute"
	EventUnmute          = "unmute"
	EventMuteExpired     = "mute_expired"
	EventWarn            = "warn"
	EventWarnEscalated   = "warn_escalated"
	EventWarningsCleared = "warnings_cleared"
	EventBombPlanted     = "bomb_planted"
	EventBombDefused     = "bomb_defused"
	EventBombExploded    = "bomb_exploded"
	EventBombReleased    = "bomb_released"
	EventChannelMuted    = "channel_muted"
	EventSelfMute        = "self_mute"
	EventSpamAlert       = "spam_alert"
)

// KindEntry is the notification kind used for mod-log entries.
const KindEntry = "audit_entry"

type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Logger struct {
	store    Sink
	logger   *zap.Logger
	clock    moderation.Clock
	notifier moderation.Notifier
}

func NewLogger(store Sink, logger *zap.Logger, clock moderation.Clock) *Logger {
	if clock == nil {
		clock = moderation.SystemClock()
	}
	return &Logger{store: store, logger: logger, clock: clock, notifier: moderation.NopNotifier{}}
}

// SetNotifier forwards every entry to the moderation log surface.
func (l *Logger) SetNotifier(notifier moderation.Notifier) {
	if notifier == nil {
		notifier = moderation.NopNotifier{}
	}
	l.notifier = notifier
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.clock.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("failed to persist audit log", zap.String("guild_id", guildID), zap.String("event", event), zap.Error(err))
		}
	}
	l.notifier.Notify(ctx, moderation.Notification{
		Surface: moderation.SurfaceModLog,
		GuildID: guildID,
		Kind:    KindEntry,
		Content: Format(entry),
		Fields: []moderation.Field{
			{Name: "level", Value: level},
			{Name: "event", Value: event},
			{Name: "user_id", Value: userID},
		},
	})
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}

// Format renders an entry as a single mod-log line.
func Format(entry storage.AuditLog) string {
	line := fmt.Sprintf("[%s] %s", entry.Level, entry.Event)
	if entry.UserID != "" {
		line += fmt.Sprintf(" <@%s>", entry.UserID)
	}
	if entry.Details != "" {
		line += ": " + entry.Details
	}
	return line
}
