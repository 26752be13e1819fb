package bot

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"stakan-guard/internal/moderation"
)

// Server event kinds posted to the mod log.
const (
	kindRolesAdded     = "event.roles_added"
	kindRolesRemoved   = "event.roles_removed"
	kindVoiceJoined    = "event.voice_joined"
	kindVoiceLeft      = "event.voice_left"
	kindVoiceMoved     = "event.voice_moved"
	kindMessageEdited  = "event.message_edited"
	kindMessageDeleted = "event.message_deleted"
)

// roleChanges returns the roles present only in after and only in before.
func roleChanges(before, after []string) (added, removed []string) {
	had := make(map[string]struct{}, len(before))
	for _, id := range before {
		had[id] = struct{}{}
	}
	has := make(map[string]struct{}, len(after))
	for _, id := range after {
		has[id] = struct{}{}
		if _, ok := had[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if _, ok := has[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// voiceTransition names the move between two voice channels, or "" when the
// channel did not change.
func voiceTransition(before, after string) string {
	switch {
	case before == after:
		return ""
	case before == "":
		return kindVoiceJoined
	case after == "":
		return kindVoiceLeft
	default:
		return kindVoiceMoved
	}
}

func roleMentions(ids []string) string {
	mentions := make([]string, 0, len(ids))
	for _, id := range ids {
		mentions = append(mentions, "<@&"+id+">")
	}
	return strings.Join(mentions, ", ")
}

func (b *Bot) logEvent(guildID, kind string, fields ...moderation.Field) {
	if !b.cfg.Notifications.EventLog {
		return
	}
	b.notifier.Notify(context.Background(), moderation.Notification{
		Surface: moderation.SurfaceModLog,
		GuildID: guildID,
		Kind:    kind,
		Fields:  fields,
	})
}

// ownEvent reports whether an event comes from the bot itself or from the
// mod log channel, which would otherwise log its own output.
func (b *Bot) ownEvent(session *discordgo.Session, authorID, channelID string) bool {
	if session.State.User != nil && authorID == session.State.User.ID {
		return true
	}
	return channelID != "" && channelID == b.cfg.Notifications.LogChannelID
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil || event.BeforeUpdate == nil {
		return
	}
	added, removed := roleChanges(event.BeforeUpdate.Roles, event.Roles)
	userID := moderation.Field{Name: "user_id", Value: event.User.ID}
	if len(added) > 0 {
		b.logEvent(event.GuildID, kindRolesAdded, userID, moderation.Field{Name: "roles", Value: roleMentions(added)})
	}
	if len(removed) > 0 {
		b.logEvent(event.GuildID, kindRolesRemoved, userID, moderation.Field{Name: "roles", Value: roleMentions(removed)})
	}
}

func (b *Bot) onVoiceStateUpdate(session *discordgo.Session, event *discordgo.VoiceStateUpdate) {
	if event.VoiceState == nil {
		return
	}
	before := ""
	if event.BeforeUpdate != nil {
		before = event.BeforeUpdate.ChannelID
	}
	kind := voiceTransition(before, event.ChannelID)
	if kind == "" {
		return
	}
	b.logEvent(event.GuildID, kind,
		moderation.Field{Name: "user_id", Value: event.UserID},
		moderation.Field{Name: "from", Value: before},
		moderation.Field{Name: "to", Value: event.ChannelID},
	)
}

// onMessageUpdate logs edits of cached messages. Embed unfurls arrive as
// updates too and are skipped because the content stays the same.
func (b *Bot) onMessageUpdate(session *discordgo.Session, event *discordgo.MessageUpdate) {
	if event.Message == nil || event.BeforeUpdate == nil || event.GuildID == "" || event.Author == nil {
		return
	}
	if b.ownEvent(session, event.Author.ID, event.ChannelID) || event.BeforeUpdate.Content == event.Content {
		return
	}
	b.logEvent(event.GuildID, kindMessageEdited,
		moderation.Field{Name: "user_id", Value: event.Author.ID},
		moderation.Field{Name: "channel_id", Value: event.ChannelID},
		moderation.Field{Name: "before", Value: event.BeforeUpdate.Content},
		moderation.Field{Name: "after", Value: event.Content},
	)
}

// onMessageDelete logs deletions of messages still in the state cache; the
// gateway only sends ids, so older messages cannot be shown.
func (b *Bot) onMessageDelete(session *discordgo.Session, event *discordgo.MessageDelete) {
	if event.Message == nil {
		return
	}
	deleted := event.BeforeDelete
	if deleted == nil || deleted.Author == nil || event.GuildID == "" {
		return
	}
	if b.ownEvent(session, deleted.Author.ID, event.ChannelID) {
		return
	}
	b.logEvent(event.GuildID, kindMessageDeleted,
		moderation.Field{Name: "user_id", Value: deleted.Author.ID},
		moderation.Field{Name: "channel_id", Value: event.ChannelID},
		moderation.Field{Name: "content", Value: deleted.Content},
	)
}
