package bot

import (
	"reflect"
	"testing"
)

func TestRoleChanges(t *testing.T) {
	added, removed := roleChanges([]string{"a", "b", "c"}, []string{"b", "c", "d", "e"})
	if !reflect.DeepEqual(added, []string{"d", "e"}) {
		t.Fatalf("unexpected added roles: %v", added)
	}
	if !reflect.DeepEqual(removed, []string{"a"}) {
		t.Fatalf("unexpected removed roles: %v", removed)
	}

	added, removed = roleChanges([]string{"a"}, []string{"a"})
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("unchanged roles must yield nothing, got %v %v", added, removed)
	}
}

func TestVoiceTransition(t *testing.T) {
	cases := []struct {
		before, after, want string
	}{
		{"", "1", kindVoiceJoined},
		{"1", "", kindVoiceLeft},
		{"1", "2", kindVoiceMoved},
		{"1", "1", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := voiceTransition(tc.before, tc.after); got != tc.want {
			t.Fatalf("%q -> %q: expected %q, got %q", tc.before, tc.after, tc.want, got)
		}
	}
}

func TestRoleMentions(t *testing.T) {
	if got := roleMentions([]string{"5", "6"}); got != "<@&5>, <@&6>" {
		t.Fatalf("unexpected mentions: %q", got)
	}
}
