package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stakan-guard/internal/access"
	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/modules/mute"
)

// Discord rejects messages longer than this.
const logMessageLimit = 4000

const confirmPrefix = "confirm"

// notifier delivers core notifications. Channel notifications answer the
// pending interaction when one is attached to the context.
type notifier struct {
	session        *discordgo.Session
	texts          Texts
	logChannelID   string
	alertChannelID string
	auditToChannel bool
	logger         *zap.Logger
}

func (n *notifier) Notify(ctx context.Context, note moderation.Notification) {
	text, ok := n.texts.Notification(note)
	if !ok {
		n.logger.Debug("notification without text", zap.String("kind", note.Kind))
		return
	}

	switch note.Surface {
	case moderation.SurfaceChannel:
		if r := replyFrom(ctx); r != nil && r.channelID() == note.ChannelID {
			if err := r.send(text); err == nil {
				return
			}
		}
		if _, err := n.session.ChannelMessageSend(note.ChannelID, text); err != nil {
			n.logger.Warn("failed to send channel notification", zap.String("channel_id", note.ChannelID), zap.String("kind", note.Kind), zap.Error(err))
		}
	case moderation.SurfaceModLog:
		if !n.modLogWanted(note.Kind) {
			return
		}
		n.sendQuiet(n.logChannelID, note.Kind, text)
	case moderation.SurfaceAlerts:
		channelID := n.alertChannelID
		if channelID == "" {
			channelID = n.logChannelID
		}
		n.sendQuiet(channelID, note.Kind, text)
	}
}

// modLogWanted filters the mod log: audit entries when they are mirrored to
// the channel, otherwise the direct notifications they would duplicate.
func (n *notifier) modLogWanted(kind string) bool {
	if n.logChannelID == "" {
		return false
	}
	switch kind {
	case audit.KindEntry:
		return n.auditToChannel
	case mute.KindExpired:
		return !n.auditToChannel
	default:
		return true
	}
}

// sendQuiet posts text without pinging anyone, split into log-sized chunks.
func (n *notifier) sendQuiet(channelID, kind, text string) {
	if channelID == "" {
		return
	}
	for _, part := range splitMessage(text, logMessageLimit) {
		_, err := n.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         part,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		})
		if err != nil {
			n.logger.Warn("failed to send log message", zap.String("channel_id", channelID), zap.String("kind", kind), zap.Error(err))
			return
		}
	}
}

// roles toggles the configured muted role.
type roles struct {
	session *discordgo.Session
	roleID  string
	logger  *zap.Logger
}

func (r *roles) GrantMuted(ctx context.Context, guildID, userID, reason string) error {
	if err := r.ensureRole(guildID); err != nil {
		return err
	}
	r.logger.Debug("granting muted role", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("reason", reason))
	if err := r.session.GuildMemberRoleAdd(guildID, userID, r.roleID); err != nil {
		return fmt.Errorf("grant muted role to %s: %w", userID, classifyRESTError(err))
	}
	return nil
}

func (r *roles) RevokeMuted(ctx context.Context, guildID, userID, reason string) error {
	if err := r.ensureRole(guildID); err != nil {
		return err
	}
	r.logger.Debug("revoking muted role", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("reason", reason))
	if err := r.session.GuildMemberRoleRemove(guildID, userID, r.roleID); err != nil {
		return fmt.Errorf("revoke muted role from %s: %w", userID, classifyRESTError(err))
	}
	return nil
}

func (r *roles) ensureRole(guildID string) error {
	if r.roleID == "" {
		return moderation.ErrRoleMissing
	}
	if role, err := r.session.State.Role(guildID, r.roleID); err == nil && role != nil {
		return nil
	}
	list, err := r.session.GuildRoles(guildID)
	if err != nil {
		return fmt.Errorf("list roles: %w", classifyRESTError(err))
	}
	for _, role := range list {
		if role.ID == r.roleID {
			return nil
		}
	}
	return moderation.ErrRoleMissing
}

// classifyRESTError maps Discord API failures onto the moderation taxonomy.
func classifyRESTError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownRole:
			return fmt.Errorf("%w: %v", moderation.ErrRoleMissing, err)
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %v", moderation.ErrNotFound, err)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", moderation.ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", moderation.ErrNotFound, err)
		}
	}
	return err
}

// members builds access subjects from the session state, falling back to
// the REST API for members that are not cached.
type members struct {
	session *discordgo.Session
	policy  *access.Policy
}

func (m *members) guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := m.session.State.Guild(guildID); err == nil && guild != nil {
		return guild, nil
	}
	guild, err := m.session.Guild(guildID)
	if err != nil {
		return nil, classifyRESTError(err)
	}
	return guild, nil
}

func (m *members) member(guildID, userID string) (*discordgo.Member, error) {
	if member, err := m.session.State.Member(guildID, userID); err == nil && member != nil {
		return member, nil
	}
	member, err := m.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", userID, classifyRESTError(err))
	}
	return member, nil
}

func (m *members) subject(guildID, userID string) (access.Subject, error) {
	guild, err := m.guild(guildID)
	if err != nil {
		return access.Subject{}, err
	}
	member, err := m.member(guildID, userID)
	if err != nil {
		return access.Subject{}, err
	}
	return subjectOf(guild, userID, member.Roles), nil
}

// subjectOf computes the guild-level permissions of a member from its roles.
func subjectOf(guild *discordgo.Guild, userID string, roleIDs []string) access.Subject {
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
	}
	var perms int64
	if everyone := roleMap[guild.ID]; everyone != nil {
		perms |= everyone.Permissions
	}
	for _, id := range roleIDs {
		if role := roleMap[id]; role != nil {
			perms |= role.Permissions
		}
	}
	return access.Subject{
		ID:          userID,
		Owner:       guild.OwnerID == userID,
		Permissions: perms,
		RoleIDs:     roleIDs,
	}
}

// authorizer applies the access policy to live members.
type authorizer struct {
	members *members
}

func (a *authorizer) CanModerate(ctx context.Context, guildID, actorID, targetID string) (moderation.Decision, error) {
	actor, err := a.members.subject(guildID, actorID)
	if err != nil {
		return moderation.Decision{}, err
	}
	if actorID == targetID {
		return a.members.policy.Evaluate(actor, actor), nil
	}
	target, err := a.members.subject(guildID, targetID)
	if err != nil {
		return moderation.Decision{}, err
	}
	return a.members.policy.Evaluate(actor, target), nil
}

func (a *authorizer) CanInvoke(ctx context.Context, guildID, actorID string) (moderation.Decision, error) {
	actor, err := a.members.subject(guildID, actorID)
	if err != nil {
		return moderation.Decision{}, err
	}
	if !a.members.policy.CanModerate(actor) {
		return moderation.Deny(access.ReasonNoPermission), nil
	}
	return moderation.Allow(), nil
}

// roster lists the members that can view a channel.
type roster struct {
	members *members
}

func (r *roster) ChannelMembers(ctx context.Context, guildID, channelID string) ([]moderation.Member, error) {
	guild, err := r.members.guild(guildID)
	if err != nil {
		return nil, err
	}
	session := r.members.session

	var out []moderation.Member
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := session.GuildMembers(guildID, after, 1000)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", classifyRESTError(err))
		}
		for _, member := range page {
			if member.User == nil {
				continue
			}
			member.GuildID = guildID
			_ = session.State.MemberAdd(member)
			perms, err := session.State.UserChannelPermissions(member.User.ID, channelID)
			if err != nil || perms&discordgo.PermissionViewChannel == 0 {
				continue
			}
			subject := subjectOf(guild, member.User.ID, member.Roles)
			out = append(out, moderation.Member{
				ID:         member.User.ID,
				Bot:        member.User.Bot,
				Privileged: r.members.policy.Privileged(subject),
			})
		}
		if len(page) < 1000 {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// confirmer posts a yes/no button pair and waits for the asking member.
type confirmer struct {
	session *discordgo.Session
	texts   Texts
	logger  *zap.Logger

	mu      sync.Mutex
	waiting map[string]*prompt
}

type prompt struct {
	actorID string
	answer  chan bool
}

func newConfirmer(session *discordgo.Session, texts Texts, logger *zap.Logger) *confirmer {
	return &confirmer{session: session, texts: texts, logger: logger, waiting: make(map[string]*prompt)}
}

func (c *confirmer) Confirm(ctx context.Context, req moderation.ConfirmRequest) (bool, error) {
	id := uuid.NewString()
	p := &prompt{actorID: req.ActorID, answer: make(chan bool, 1)}
	c.mu.Lock()
	c.waiting[id] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, id)
		c.mu.Unlock()
	}()

	msg, err := c.session.ChannelMessageSendComplex(req.ChannelID, &discordgo.MessageSend{
		Content: c.texts.T(req.Prompt, req.ActorID),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: c.texts.T("confirm_yes"), Style: discordgo.SuccessButton, CustomID: confirmCustomID(id, true)},
					discordgo.Button{Label: c.texts.T("confirm_no"), Style: discordgo.DangerButton, CustomID: confirmCustomID(id, false)},
				},
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("send confirmation: %w", err)
	}
	defer func() {
		if err := c.session.ChannelMessageDelete(req.ChannelID, msg.ID); err != nil {
			c.logger.Debug("failed to delete confirmation", zap.String("channel_id", req.ChannelID), zap.Error(err))
		}
	}()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()
	select {
	case yes := <-p.answer:
		return yes, nil
	case <-timer.C:
		return false, moderation.ErrTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// handleComponent answers a confirmation button press. It reports whether
// the custom id belonged to a confirmation.
func (c *confirmer) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	id, yes, ok := parseConfirmCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return false
	}
	c.mu.Lock()
	p := c.waiting[id]
	c.mu.Unlock()

	switch {
	case p == nil:
		respondEphemeral(s, i, c.texts.T("err_timeout"))
	case interactionUserID(i) != p.actorID:
		respondEphemeral(s, i, c.texts.T("confirm_not_yours"))
	default:
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate})
		select {
		case p.answer <- yes:
		default:
		}
	}
	return true
}

func confirmCustomID(id string, yes bool) string {
	answer := "no"
	if yes {
		answer = "yes"
	}
	return confirmPrefix + ":" + id + ":" + answer
}

func parseConfirmCustomID(customID string) (id string, yes bool, ok bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != confirmPrefix || parts[1] == "" {
		return "", false, false
	}
	switch parts[2] {
	case "yes":
		return parts[1], true, true
	case "no":
		return parts[1], false, true
	default:
		return "", false, false
	}
}
