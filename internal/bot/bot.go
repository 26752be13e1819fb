package bot

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"stakan-guard/internal/access"
	"stakan-guard/internal/analytics"
	"stakan-guard/internal/config"
	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/antispam"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/modules/bomb"
	"stakan-guard/internal/modules/mute"
	"stakan-guard/internal/modules/roulette"
	"stakan-guard/internal/modules/warnings"
	"stakan-guard/internal/storage"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     storage.Store
	session   *discordgo.Session
	texts     Texts
	policy    *access.Policy
	members   *members
	notifier  *notifier
	authz     *authorizer
	confirm   *confirmer
	audit     *audit.Logger
	reports   *analytics.Service
	mutes     *mute.Manager
	warnings  *warnings.Escalator
	bombs     *bomb.Registry
	spam      *antispam.Tracker
	games     *roulette.Game
	scheduler *Scheduler
}

func New(cfg config.Config, logger *zap.Logger, store storage.Store, auditLogger *audit.Logger, reports *analytics.Service) (*Bot, error) {
	if store == nil {
		return nil, errors.New("bot requires a store")
	}
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// Edits and deletions can only be logged for messages kept in the state.
	session.State.MaxMessageCount = cfg.Notifications.MessageCache

	texts := NewTexts(cfg.Language)
	policy := access.NewPolicy("", cfg.Access.ModeratorRoleIDs, cfg.Access.ProtectedRoleIDs)
	directory := &members{session: session, policy: policy}
	clock := moderation.SystemClock()

	b := &Bot{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: session,
		texts:   texts,
		policy:  policy,
		members: directory,
		notifier: &notifier{
			session:        session,
			texts:          texts,
			logChannelID:   cfg.Notifications.LogChannelID,
			alertChannelID: cfg.Notifications.AlertChannelID,
			auditToChannel: cfg.Notifications.AuditToChannel,
			logger:         logger,
		},
		authz:   &authorizer{members: directory},
		confirm: newConfirmer(session, texts, logger),
		audit:   auditLogger,
		reports: reports,
	}
	if auditLogger != nil {
		auditLogger.SetNotifier(b.notifier)
	}

	roleSvc := &roles{session: session, roleID: cfg.Mute.RoleID, logger: logger}
	b.mutes = mute.NewManager(store, roleSvc, b.authz, b.notifier, auditLogger, clock, logger)
	b.warnings = warnings.NewEscalator(warnings.Config{
		Threshold:    cfg.Warnings.Threshold,
		Window:       time.Duration(cfg.Warnings.WindowHours) * time.Hour,
		MuteDuration: time.Duration(cfg.Warnings.MuteHours) * time.Hour,
		MuteReason:   cfg.Warnings.MuteReason,
	}, store, b.mutes, b.authz, b.notifier, auditLogger, clock, logger)
	b.bombs = bomb.NewRegistry(bomb.Config{
		ConfirmTimeout:      time.Duration(cfg.Bomb.ConfirmSeconds) * time.Second,
		Fuse:                time.Duration(cfg.Bomb.FuseMinutes) * time.Minute,
		Cooldown:            time.Duration(cfg.Bomb.CooldownDays) * 24 * time.Hour,
		MassMuteDuration:    time.Duration(cfg.Bomb.MassMuteMinutes) * time.Minute,
		MassMuteConcurrency: cfg.Bomb.MassMuteConcurrency,
	}, store, roleSvc, b.confirm, &roster{members: directory}, b.mutes, b.notifier, auditLogger, clock, logger)
	b.mutes.SetMassMutes(b.bombs)
	b.games = roulette.New(roulette.Config{
		Chambers:     cfg.Games.Chambers,
		MuteDuration: time.Duration(cfg.Games.MuteSeconds) * time.Second,
	}, b.mutes, b.notifier, clock, logger)
	b.spam = antispam.New(antispam.Config{
		Window:           time.Duration(cfg.Spam.WindowSeconds) * time.Second,
		ChannelThreshold: cfg.Spam.ChannelThreshold,
		AlertCooldown:    time.Duration(cfg.Spam.CooldownSeconds) * time.Second,
		PreviewLength:    cfg.Spam.PreviewLength,
	}, b.notifier, auditLogger, clock, logger)

	b.scheduler = NewScheduler(SchedulerConfig{
		SweepInterval: cfg.Mute.SweepInterval(),
		PruneInterval: cfg.Spam.PruneInterval(),
		Retention:     cfg.Retention(),
	}, b.mutes, b.spam, store, logger)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	b.policy.SetBotID(b.session.State.User.ID)

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.scheduler.Start()
	return nil
}

// Close stops the periodic jobs, disarms bombs and lifts outstanding mass
// mutes before the gateway connection goes away.
func (b *Bot) Close(ctx context.Context) error {
	b.scheduler.Stop()
	err := b.bombs.Shutdown(ctx)
	if b.session != nil {
		err = multierr.Append(err, b.session.Close())
	}
	return err
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}
