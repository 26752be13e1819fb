// Package access decides who may moderate whom. The policy works on member
// snapshots so it can be evaluated without a live session.
package access

import (
	"github.com/bwmarrin/discordgo"

	"stakan-guard/internal/moderation"
)

// Denial reasons. The adapter maps them to localized texts.
const (
	ReasonSelf          = "self"
	ReasonBot           = "bot"
	ReasonNoPermission  = "no_permission"
	ReasonTargetOwner   = "target_owner"
	ReasonTargetAdmin   = "target_admin"
	ReasonTargetProtect = "target_protected"
)

const moderatePermissions = discordgo.PermissionAdministrator |
	discordgo.PermissionManageMessages |
	discordgo.PermissionModerateMembers

// Subject is a member snapshot: the guild owner flag, the computed guild
// permissions and the role ids.
type Subject struct {
	ID          string
	Owner       bool
	Permissions int64
	RoleIDs     []string
}

func (s Subject) has(bits int64) bool {
	return s.Permissions&bits != 0
}

func (s Subject) hasAnyRole(roles map[string]struct{}) bool {
	for _, id := range s.RoleIDs {
		if _, ok := roles[id]; ok {
			return true
		}
	}
	return false
}

type Policy struct {
	botID     string
	moderator map[string]struct{}
	protected map[string]struct{}
}

// NewPolicy builds a policy. moderatorRoles grant moderation without the
// permission bits; protectedRoles shield their holders from everyone but the
// owner.
func NewPolicy(botID string, moderatorRoles, protectedRoles []string) *Policy {
	return &Policy{
		botID:     botID,
		moderator: toSet(moderatorRoles),
		protected: toSet(protectedRoles),
	}
}

func (p *Policy) SetBotID(id string) {
	p.botID = id
}

func (p *Policy) Evaluate(actor, target Subject) moderation.Decision {
	switch {
	case actor.ID == target.ID:
		return moderation.Deny(ReasonSelf)
	case p.botID != "" && target.ID == p.botID:
		return moderation.Deny(ReasonBot)
	case !p.CanModerate(actor):
		return moderation.Deny(ReasonNoPermission)
	case target.Owner:
		return moderation.Deny(ReasonTargetOwner)
	case actor.Owner:
		return moderation.Allow()
	case target.has(discordgo.PermissionAdministrator):
		return moderation.Deny(ReasonTargetAdmin)
	case target.hasAnyRole(p.protected):
		return moderation.Deny(ReasonTargetProtect)
	}
	return moderation.Allow()
}

// CanModerate reports whether s may run moderation commands at all.
func (p *Policy) CanModerate(s Subject) bool {
	return s.Owner || s.has(moderatePermissions) || s.hasAnyRole(p.moderator)
}

// Privileged members are skipped by the bomb mass mute.
func (p *Policy) Privileged(s Subject) bool {
	return p.CanModerate(s) || s.hasAnyRole(p.protected)
}

func CanMentionEveryone(s Subject) bool {
	return s.Owner || s.has(discordgo.PermissionAdministrator|discordgo.PermissionMentionEveryone)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value != "" {
			set[value] = struct{}{}
		}
	}
	return set
}
