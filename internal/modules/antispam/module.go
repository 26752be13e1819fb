package antispam

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/telemetry"
	"stakan-guard/internal/utils"
)

const KindAlert = "antispam.alert"

const (
	TriggerMention = "mention"
	TriggerBurst   = "burst"
)

var broadMentions = []string{"@everyone", "@here"}

type Config struct {
	Window           time.Duration
	ChannelThreshold int
	AlertCooldown    time.Duration
	PreviewLength    int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 120 * time.Second
	}
	if c.ChannelThreshold <= 0 {
		c.ChannelThreshold = 3
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 300 * time.Second
	}
	if c.PreviewLength <= 0 {
		c.PreviewLength = 300
	}
	return c
}

type Message struct {
	ID                 string
	GuildID            string
	ChannelID          string
	AuthorID           string
	Content            string
	Bot                bool
	CanMentionEveryone bool
}

type Alert struct {
	GuildID   string
	UserID    string
	ChannelID string
	MessageID string
	Trigger   string
	Channels  []string
	Count     int
	Preview   string
	Hosts     []string
}

type member struct {
	window    *utils.ChannelWindow
	lastAlert time.Time
}

// Tracker watches messages for broad-mention abuse and cross-channel bursts.
// Alerts for one member are rate limited by a shared cooldown.
type Tracker struct {
	config   Config
	notifier moderation.Notifier
	audit    *audit.Logger
	clock    moderation.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	members map[string]*member
}

func New(cfg Config, notifier moderation.Notifier, auditLogger *audit.Logger, clock moderation.Clock, logger *zap.Logger) *Tracker {
	if notifier == nil {
		notifier = moderation.NopNotifier{}
	}
	if clock == nil {
		clock = moderation.SystemClock()
	}
	return &Tracker{
		config:   cfg.withDefaults(),
		notifier: notifier,
		audit:    auditLogger,
		clock:    clock,
		logger:   logger,
		members:  make(map[string]*member),
	}
}

// Observe records msg and returns the alert it raised, if any. Bot and
// direct messages are ignored.
func (t *Tracker) Observe(ctx context.Context, msg Message) (*Alert, bool) {
	if msg.Bot || msg.GuildID == "" || msg.AuthorID == "" {
		return nil, false
	}
	now := t.clock.Now()

	t.mu.Lock()
	state := t.member(msg.GuildID, msg.AuthorID)
	state.window.Add(now, msg.ChannelID)
	channels := state.window.Channels(now)
	count := state.window.Count(now)

	trigger := ""
	switch {
	case !msg.CanMentionEveryone && hasBroadMention(msg.Content):
		trigger = TriggerMention
	case len(channels) >= t.config.ChannelThreshold:
		trigger = TriggerBurst
	}
	if trigger == "" {
		t.mu.Unlock()
		return nil, false
	}
	if !state.lastAlert.IsZero() && now.Sub(state.lastAlert) < t.config.AlertCooldown {
		t.mu.Unlock()
		telemetry.SpamAlerts.WithLabelValues(trigger, "suppressed").Inc()
		return nil, false
	}
	state.lastAlert = now
	t.mu.Unlock()

	alert := &Alert{
		GuildID:   msg.GuildID,
		UserID:    msg.AuthorID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Trigger:   trigger,
		Channels:  channels,
		Count:     count,
		Preview:   utils.Preview(msg.Content, t.config.PreviewLength),
		Hosts:     utils.LinkHosts(msg.Content),
	}
	t.sendAlert(ctx, alert)
	return alert, true
}

// Prune drops members whose window is empty and whose alert cooldown has
// passed. It returns how many were dropped.
func (t *Tracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for key, state := range t.members {
		if state.window.Count(now) > 0 {
			continue
		}
		if !state.lastAlert.IsZero() && now.Sub(state.lastAlert) < t.config.AlertCooldown {
			continue
		}
		delete(t.members, key)
		dropped++
	}
	return dropped
}

// Tracked returns the number of members with live state.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.members)
}

func (t *Tracker) sendAlert(ctx context.Context, alert *Alert) {
	telemetry.SpamAlerts.WithLabelValues(alert.Trigger, "sent").Inc()

	mentions := make([]string, 0, len(alert.Channels))
	for _, id := range alert.Channels {
		mentions = append(mentions, "<#"+id+">")
	}
	t.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceAlerts,
		GuildID:   alert.GuildID,
		ChannelID: alert.ChannelID,
		Kind:      KindAlert,
		Content:   alert.Preview,
		Fields: []moderation.Field{
			{Name: "user_id", Value: alert.UserID},
			{Name: "trigger", Value: alert.Trigger},
			{Name: "channels", Value: strings.Join(mentions, ", ")},
			{Name: "count", Value: strconv.Itoa(alert.Count)},
			{Name: "hosts", Value: strings.Join(alert.Hosts, ", ")},
			{Name: "message_id", Value: alert.MessageID},
		},
	})
	if t.audit != nil {
		t.audit.Log(ctx, audit.LevelWarn, alert.GuildID, alert.UserID, audit.EventSpamAlert, fmt.Sprintf("trigger=%s channels=%d messages=%d", alert.Trigger, len(alert.Channels), alert.Count))
	}
	t.logger.Info("spam alert", zap.String("guild_id", alert.GuildID), zap.String("user_id", alert.UserID), zap.String("trigger", alert.Trigger), zap.Int("channels", len(alert.Channels)))
}

func (t *Tracker) member(guildID, userID string) *member {
	key := guildID + ":" + userID
	state := t.members[key]
	if state == nil {
		state = &member{window: utils.NewChannelWindow(t.config.Window)}
		t.members[key] = state
	}
	return state
}

func hasBroadMention(content string) bool {
	for _, token := range broadMentions {
		if strings.Contains(content, token) {
			return true
		}
	}
	return false
}
