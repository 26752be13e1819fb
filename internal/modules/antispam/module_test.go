package antispam

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/moderation/moderationtest"
)

func newTracker() (*Tracker, *moderationtest.Notifier, *moderationtest.FakeClock) {
	clock := moderationtest.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	notifier := &moderationtest.Notifier{}
	return New(Config{}, notifier, nil, clock, zap.NewNop()), notifier, clock
}

func message(channel, content string) Message {
	return Message{ID: "m-" + channel, GuildID: "g1", ChannelID: channel, AuthorID: "u1", Content: content}
}

func TestBurstAcrossChannelsAlertsOnce(t *testing.T) {
	tracker, notifier, clock := newTracker()
	ctx := context.Background()

	for _, channel := range []string{"A", "B"} {
		if _, alerted := tracker.Observe(ctx, message(channel, "hi")); alerted {
			t.Fatalf("%s: unexpected alert", channel)
		}
		clock.Advance(20 * time.Second)
	}
	alert, alerted := tracker.Observe(ctx, message("C", "hi"))
	if !alerted {
		t.Fatalf("expected alert on the third channel")
	}
	if alert.Trigger != TriggerBurst || alert.Count != 3 || strings.Join(alert.Channels, ",") != "A,B,C" {
		t.Fatalf("unexpected alert: %+v", alert)
	}

	clock.Advance(10 * time.Second)
	if _, alerted := tracker.Observe(ctx, message("D", "hi")); alerted {
		t.Fatalf("fourth channel inside the cooldown must not alert")
	}
	if notifier.Count(KindAlert) != 1 {
		t.Fatalf("expected exactly one notification, got %d", notifier.Count(KindAlert))
	}
	sent, _ := notifier.Last(KindAlert)
	if sent.Surface != moderation.SurfaceAlerts || moderationtest.FieldValue(sent, "channels") != "<#A>, <#B>, <#C>" {
		t.Fatalf("unexpected notification: %+v", sent)
	}
}

func TestBurstOutsideWindowDoesNotAlert(t *testing.T) {
	tracker, _, clock := newTracker()
	ctx := context.Background()

	tracker.Observe(ctx, message("A", "hi"))
	clock.Advance(61 * time.Second)
	tracker.Observe(ctx, message("B", "hi"))
	clock.Advance(60 * time.Second)
	if _, alerted := tracker.Observe(ctx, message("C", "hi")); alerted {
		t.Fatalf("the first message left the window, no alert expected")
	}
}

func TestAlertAgainAfterCooldown(t *testing.T) {
	tracker, notifier, clock := newTracker()
	ctx := context.Background()

	if _, alerted := tracker.Observe(ctx, message("A", "@everyone free stuff")); !alerted {
		t.Fatalf("expected mention alert")
	}
	clock.Advance(299 * time.Second)
	if _, alerted := tracker.Observe(ctx, message("A", "@here again")); alerted {
		t.Fatalf("alert inside the cooldown must be suppressed")
	}
	clock.Advance(time.Second)
	if _, alerted := tracker.Observe(ctx, message("A", "@here again")); !alerted {
		t.Fatalf("expected a second alert once the cooldown elapsed")
	}
	if notifier.Count(KindAlert) != 2 {
		t.Fatalf("expected 2 notifications, got %d", notifier.Count(KindAlert))
	}
}

func TestBothTriggersShareCooldown(t *testing.T) {
	tracker, notifier, clock := newTracker()
	ctx := context.Background()

	tracker.Observe(ctx, message("A", "hi"))
	tracker.Observe(ctx, message("B", "hi"))
	if _, alerted := tracker.Observe(ctx, message("C", "hi")); !alerted {
		t.Fatalf("expected burst alert")
	}
	clock.Advance(time.Second)
	if _, alerted := tracker.Observe(ctx, message("C", "@everyone")); alerted {
		t.Fatalf("mention right after a burst alert must share the cooldown")
	}
	if notifier.Count(KindAlert) != 1 {
		t.Fatalf("expected one notification, got %d", notifier.Count(KindAlert))
	}
}

func TestMentionAlertDetails(t *testing.T) {
	tracker, _, _ := newTracker()
	content := "@everyone ```code``` visit https://Пример.рф/promo and http://evil.example.com/x " + strings.Repeat("я", 400)

	alert, alerted := tracker.Observe(context.Background(), message("A", content))
	if !alerted || alert.Trigger != TriggerMention {
		t.Fatalf("expected mention alert, got %+v", alert)
	}
	if strings.Contains(alert.Preview, "`") {
		t.Fatalf("preview must neutralize code fences: %q", alert.Preview)
	}
	if n := len([]rune(alert.Preview)); n != 301 {
		t.Fatalf("expected 300 runes plus ellipsis, got %d", n)
	}
	if strings.Join(alert.Hosts, ",") != "evil.example.com,xn--e1afmkfd.xn--p1ai" {
		t.Fatalf("unexpected hosts: %v", alert.Hosts)
	}
}

func TestPrivilegedMentionAndBotsIgnored(t *testing.T) {
	tracker, notifier, _ := newTracker()
	ctx := context.Background()

	allowed := message("A", "@everyone meeting now")
	allowed.CanMentionEveryone = true
	if _, alerted := tracker.Observe(ctx, allowed); alerted {
		t.Fatalf("privileged broad mention must not alert")
	}

	bot := message("B", "@everyone")
	bot.Bot = true
	if _, alerted := tracker.Observe(ctx, bot); alerted {
		t.Fatalf("bot messages are ignored")
	}
	dm := message("C", "@everyone")
	dm.GuildID = ""
	if _, alerted := tracker.Observe(ctx, dm); alerted {
		t.Fatalf("direct messages are ignored")
	}
	if notifier.Count(KindAlert) != 0 {
		t.Fatalf("expected no notifications")
	}
	if tracker.Tracked() != 1 {
		t.Fatalf("ignored messages must not create state, tracked %d", tracker.Tracked())
	}
}

func TestMembersAreTrackedSeparately(t *testing.T) {
	tracker, _, _ := newTracker()
	ctx := context.Background()

	for i, channel := range []string{"A", "B", "C"} {
		msg := message(channel, "hi")
		msg.AuthorID = []string{"u1", "u2", "u3"}[i]
		if _, alerted := tracker.Observe(ctx, msg); alerted {
			t.Fatalf("different members must not share a window")
		}
	}
	other := message("A", "hi")
	other.GuildID = "g2"
	tracker.Observe(ctx, other)
	if tracker.Tracked() != 4 {
		t.Fatalf("expected 4 tracked members, got %d", tracker.Tracked())
	}
}

func TestPrune(t *testing.T) {
	tracker, _, clock := newTracker()
	ctx := context.Background()

	tracker.Observe(ctx, message("A", "@everyone"))
	quiet := message("A", "hi")
	quiet.AuthorID = "u2"
	tracker.Observe(ctx, quiet)

	clock.Advance(121 * time.Second)
	if dropped := tracker.Prune(clock.Now()); dropped != 1 {
		t.Fatalf("only the quiet member may be dropped, got %d", dropped)
	}
	clock.Advance(300 * time.Second)
	if dropped := tracker.Prune(clock.Now()); dropped != 1 {
		t.Fatalf("alerted member is dropped after the cooldown, got %d", dropped)
	}
	if tracker.Tracked() != 0 {
		t.Fatalf("expected empty tracker")
	}
}
