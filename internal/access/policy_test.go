package access

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"stakan-guard/internal/moderation"
)

func TestPolicyEvaluate(t *testing.T) {
	policy := NewPolicy("bot", []string{"mods"}, []string{"vip"})

	moderator := Subject{ID: "m1", Permissions: discordgo.PermissionManageMessages}
	roleModerator := Subject{ID: "m2", RoleIDs: []string{"mods"}}
	owner := Subject{ID: "o1", Owner: true}
	member := Subject{ID: "u1"}
	admin := Subject{ID: "a1", Permissions: discordgo.PermissionAdministrator}
	vip := Subject{ID: "v1", RoleIDs: []string{"vip"}}

	cases := []struct {
		name   string
		actor  Subject
		target Subject
		reason string
	}{
		{"moderator on member", moderator, member, ""},
		{"role moderator on member", roleModerator, member, ""},
		{"member on member", member, Subject{ID: "u2"}, ReasonNoPermission},
		{"self", moderator, moderator, ReasonSelf},
		{"bot", moderator, Subject{ID: "bot"}, ReasonBot},
		{"owner target", admin, owner, ReasonTargetOwner},
		{"admin target", moderator, admin, ReasonTargetAdmin},
		{"protected target", moderator, vip, ReasonTargetProtect},
		{"owner on admin", owner, admin, ""},
		{"owner on protected", owner, vip, ""},
	}

	for _, tc := range cases {
		decision := policy.Evaluate(tc.actor, tc.target)
		if tc.reason == "" {
			if !decision.Allowed {
				t.Fatalf("%s: expected allow, got deny %q", tc.name, decision.Reason)
			}
			if decision.Err() != nil {
				t.Fatalf("%s: allowed decision must not carry an error", tc.name)
			}
			continue
		}
		if decision.Allowed || decision.Reason != tc.reason {
			t.Fatalf("%s: expected deny %q, got %+v", tc.name, tc.reason, decision)
		}
		err := decision.Err()
		if !errors.Is(err, moderation.ErrPermissionDenied) {
			t.Fatalf("%s: expected permission error, got %v", tc.name, err)
		}
		var permErr *moderation.PermissionError
		if !errors.As(err, &permErr) || permErr.Reason != tc.reason {
			t.Fatalf("%s: expected reason %q in error, got %v", tc.name, tc.reason, err)
		}
	}
}

func TestPrivileged(t *testing.T) {
	policy := NewPolicy("bot", nil, []string{"vip"})
	if policy.Privileged(Subject{ID: "u1"}) {
		t.Fatalf("plain member is not privileged")
	}
	if !policy.Privileged(Subject{ID: "v1", RoleIDs: []string{"vip"}}) {
		t.Fatalf("protected role holder is privileged")
	}
	if !policy.Privileged(Subject{ID: "m1", Permissions: discordgo.PermissionModerateMembers}) {
		t.Fatalf("moderator is privileged")
	}
}

func TestCanMentionEveryone(t *testing.T) {
	if CanMentionEveryone(Subject{ID: "u1", Permissions: discordgo.PermissionSendMessages}) {
		t.Fatalf("send messages alone does not allow broad mentions")
	}
	if !CanMentionEveryone(Subject{ID: "u1", Permissions: discordgo.PermissionMentionEveryone}) {
		t.Fatalf("mention everyone permission allows broad mentions")
	}
	if !CanMentionEveryone(Subject{ID: "o1", Owner: true}) {
		t.Fatalf("owner may always mention everyone")
	}
}
