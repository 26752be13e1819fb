package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"stakan-guard/internal/access"
	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/antispam"
	"stakan-guard/internal/modules/bomb"
	"stakan-guard/internal/modules/mute"
	"stakan-guard/internal/modules/warnings"
	"stakan-guard/internal/telemetry"
)

const commandTimeout = 2 * time.Minute

var errGamesDisabled = fmt.Errorf("%w: games disabled", moderation.ErrPermissionDenied)

// invocation carries the parsed slash command.
type invocation struct {
	name      string
	sub       string
	guildID   string
	channelID string
	actorID   string
	targetID  string
	strings   map[string]string
	reply     *reply
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	switch interaction.Type {
	case discordgo.InteractionMessageComponent:
		b.confirm.handleComponent(session, interaction)
		return
	case discordgo.InteractionApplicationCommand:
	default:
		return
	}

	data := interaction.ApplicationCommandData()
	if interaction.GuildID == "" {
		respondEphemeral(session, interaction, b.texts.T("guild_only"))
		return
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		b.logger.Warn("failed to defer interaction", zap.String("command", data.Name), zap.Error(err))
		return
	}

	inv := parseInvocation(session, interaction, data)
	b.handleCommand(inv)
}

func parseInvocation(session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) invocation {
	inv := invocation{
		name:      data.Name,
		guildID:   interaction.GuildID,
		channelID: interaction.ChannelID,
		actorID:   interactionUserID(interaction),
		strings:   make(map[string]string),
		reply:     newReply(session, interaction.Interaction),
	}
	options := data.Options
	if len(options) == 1 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		inv.sub = options[0].Name
		options = options[0].Options
	}
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionUser:
			if value, ok := opt.Value.(string); ok {
				inv.targetID = value
			}
		case discordgo.ApplicationCommandOptionString:
			inv.strings[opt.Name] = strings.TrimSpace(opt.StringValue())
		}
	}
	return inv
}

func (b *Bot) handleCommand(inv invocation) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx = withReply(ctx, inv.reply)
	ctx, span := telemetry.StartSpan(ctx, "command."+inv.name, inv.guildID,
		attribute.String("actor_id", inv.actorID),
		attribute.String("target_id", inv.targetID),
	)
	defer span.End()

	err := b.runCommand(ctx, inv)
	telemetry.End(span, err)
	result := commandResult(err)
	telemetry.Commands.WithLabelValues(inv.name, result).Inc()

	if err != nil {
		fields := []zap.Field{
			zap.String("command", inv.name),
			zap.String("guild_id", inv.guildID),
			zap.String("actor_id", inv.actorID),
			zap.String("target_id", inv.targetID),
			zap.Error(err),
		}
		if result == "error" {
			b.logger.Error("command failed", fields...)
		} else {
			b.logger.Info("command rejected", fields...)
		}
		target := inv.targetID
		if target == "" {
			target = inv.actorID
		}
		if sendErr := inv.reply.send(b.texts.Error(inv.name, err, target)); sendErr != nil {
			b.logger.Warn("failed to send command error", zap.String("command", inv.name), zap.Error(sendErr))
		}
		return
	}
	inv.reply.finish()
}

func (b *Bot) runCommand(ctx context.Context, inv invocation) error {
	switch inv.name {
	case cmdMute:
		reason := inv.strings["reason"]
		if reason == "" {
			reason = b.cfg.Mute.DefaultReason
		}
		_, err := b.mutes.MuteToken(ctx, mute.Request{
			GuildID:   inv.guildID,
			ChannelID: inv.channelID,
			ActorID:   inv.actorID,
			TargetID:  inv.targetID,
			Reason:    reason,
			Source:    mute.SourceCommand,
		}, inv.strings["duration"])
		return err
	case cmdUnmute:
		return b.mutes.Unmute(ctx, inv.guildID, inv.channelID, inv.actorID, inv.targetID)
	case cmdWarn:
		reason := inv.strings["reason"]
		if reason == "" {
			reason = b.cfg.Mute.DefaultReason
		}
		_, err := b.warnings.Warn(ctx, warnings.Request{
			GuildID:   inv.guildID,
			ChannelID: inv.channelID,
			ActorID:   inv.actorID,
			TargetID:  inv.targetID,
			Reason:    reason,
		})
		return err
	case cmdWarnRemove:
		_, err := b.warnings.RemoveWarnings(ctx, inv.guildID, inv.channelID, inv.actorID, inv.targetID)
		return err
	case cmdWarnings:
		list, err := b.warnings.ListWarnings(ctx, inv.guildID, inv.actorID, inv.targetID)
		if err != nil {
			return err
		}
		return inv.reply.send(b.texts.Warnings(inv.targetID, list))
	case cmdBomb:
		if !b.cfg.Bomb.Enabled {
			return moderation.Deny(access.ReasonNoPermission).Err()
		}
		if inv.sub == "status" {
			status, err := b.bombs.Status(ctx, inv.guildID)
			if err != nil {
				return err
			}
			return inv.reply.send(b.texts.BombStatus(status))
		}
		_, err := b.bombs.Plant(ctx, bomb.PlantRequest{GuildID: inv.guildID, ChannelID: inv.channelID, ActorID: inv.actorID})
		return err
	case cmdDefuse:
		_, err := b.bombs.Defuse(ctx, inv.guildID, inv.channelID, inv.actorID, inv.strings["code"])
		return err
	case cmdMuteAll:
		return b.muteAll(ctx, inv)
	case cmdRoulette:
		if !b.cfg.Games.Enabled {
			return errGamesDisabled
		}
		_, err := b.games.Spin(ctx, inv.guildID, inv.channelID, inv.actorID)
		return err
	case cmdSelfBan:
		if !b.cfg.Games.Enabled {
			return errGamesDisabled
		}
		return b.games.SelfBan(ctx, inv.guildID, inv.channelID, inv.actorID)
	case cmdModReport:
		return b.modReport(ctx, inv)
	default:
		return moderation.ErrInvalidInput
	}
}

// muteAll mutes the whole channel for the mass-mute duration. Only members
// allowed to moderate may run it.
func (b *Bot) muteAll(ctx context.Context, inv invocation) error {
	decision, err := b.authz.CanInvoke(ctx, inv.guildID, inv.actorID)
	if err != nil {
		return err
	}
	if err := decision.Err(); err != nil {
		return err
	}
	_, err = b.bombs.MuteChannel(ctx, bomb.ChannelMuteRequest{
		GuildID:   inv.guildID,
		ChannelID: inv.channelID,
		ActorID:   inv.actorID,
		Reason:    inv.strings["reason"],
	})
	return err
}

func (b *Bot) modReport(ctx context.Context, inv invocation) error {
	decision, err := b.authz.CanInvoke(ctx, inv.guildID, inv.actorID)
	if err != nil {
		return err
	}
	if err := decision.Err(); err != nil {
		return err
	}
	period := 24 * time.Hour
	if inv.strings["period"] == "week" {
		period = 7 * 24 * time.Hour
	}
	report, err := b.reports.Report(ctx, inv.guildID, time.Now().UTC().Add(-period))
	if err != nil {
		return err
	}
	return inv.reply.send(b.texts.Report(report))
}

// commandResult labels err as ok, rejected (an expected refusal) or error.
func commandResult(err error) string {
	if err == nil {
		return "ok"
	}
	for _, target := range []error{
		moderation.ErrPermissionDenied,
		moderation.ErrInvalidInput,
		moderation.ErrAlreadyInState,
		moderation.ErrOnCooldown,
		moderation.ErrTimeout,
		moderation.ErrDeclined,
		moderation.ErrNotFound,
		bomb.ErrArmed,
	} {
		if errors.Is(err, target) {
			return "rejected"
		}
	}
	return "error"
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || (session.State.User != nil && msg.Author.ID == session.State.User.ID) {
		return
	}
	if msg.GuildID == "" {
		if !msg.Author.Bot {
			b.replyDirect(session, msg.Author.ID)
		}
		return
	}
	if !b.cfg.Spam.Enabled || msg.Author.Bot {
		return
	}

	b.spam.Observe(context.Background(), b.spamMessage(session, msg))
}

func (b *Bot) spamMessage(session *discordgo.Session, msg *discordgo.MessageCreate) antispam.Message {
	out := antispam.Message{
		ID:        msg.ID,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.Author.ID,
		Content:   msg.Content,
		Bot:       msg.Author.Bot,
	}
	if perms, err := session.State.UserChannelPermissions(msg.Author.ID, msg.ChannelID); err == nil {
		out.CanMentionEveryone = perms&(discordgo.PermissionAdministrator|discordgo.PermissionMentionEveryone) != 0
		return out
	}
	guild, err := b.members.guild(msg.GuildID)
	if err != nil || msg.Member == nil {
		return out
	}
	out.CanMentionEveryone = access.CanMentionEveryone(subjectOf(guild, msg.Author.ID, msg.Member.Roles))
	return out
}

func (b *Bot) replyDirect(session *discordgo.Session, userID string) {
	channel, err := session.UserChannelCreate(userID)
	if err != nil {
		b.logger.Debug("failed to open direct channel", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if _, err := session.ChannelMessageSend(channel.ID, b.texts.T("dm_reply")); err != nil {
		b.logger.Debug("failed to reply to direct message", zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil {
		return
	}
	b.logEvent(event.GuildID, kindMemberJoined, moderation.Field{Name: "user_id", Value: event.User.ID})
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil {
		return
	}
	b.logEvent(event.GuildID, kindMemberLeft, moderation.Field{Name: "user_id", Value: event.User.ID})
}
