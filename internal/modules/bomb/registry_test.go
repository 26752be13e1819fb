package bomb

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/moderation/moderationtest"
	"stakan-guard/internal/storage"
)

type staticMutes map[string]bool

func (m staticMutes) IsMuted(_ context.Context, _, userID string) (bool, error) {
	return m[userID], nil
}

type harness struct {
	registry  *Registry
	store     storage.Store
	roles     *moderationtest.Roles
	confirmer *moderationtest.Confirmer
	notifier  *moderationtest.Notifier
	clock     *moderationtest.FakeClock
}

func newHarness(t *testing.T, roster moderation.Roster, mutes MuteChecker) *harness {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	h := &harness{
		store:     store,
		roles:     moderationtest.NewRoles(),
		confirmer: &moderationtest.Confirmer{Answer: true},
		notifier:  &moderationtest.Notifier{},
		clock:     moderationtest.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.registry = NewRegistry(Config{}, store, h.roles, h.confirmer, roster, mutes, h.notifier, nil, h.clock, zap.NewNop())
	h.registry.intn = func(int) int { return 732 }
	return h
}

func plantRequest() PlantRequest {
	return PlantRequest{GuildID: "g1", ChannelID: "c1", ActorID: "u1"}
}

func TestMask(t *testing.T) {
	cases := map[int]string{1732: "1X3X", 1000: "1X0X", 1999: "1X9X"}
	for code, want := range cases {
		if got := Mask(code); got != want {
			t.Fatalf("%d: expected %q, got %q", code, want, got)
		}
	}
}

func TestCodeRange(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{}, nil)
	var bounds []int
	h.registry.intn = func(n int) int {
		bounds = append(bounds, n)
		return n - 1
	}
	if _, err := h.registry.Plant(context.Background(), plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}
	if len(bounds) != 1 || bounds[0] != 1000 {
		t.Fatalf("expected a draw from [0,1000), got %v", bounds)
	}
	if _, err := h.registry.Defuse(context.Background(), "g1", "c1", "u2", "1999"); err != nil {
		t.Fatalf("defuse: %v", err)
	}
}

func TestPlantArmsBomb(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{}, nil)
	ctx := context.Background()

	info, err := h.registry.Plant(ctx, plantRequest())
	if err != nil {
		t.Fatalf("plant: %v", err)
	}
	if info.Mask != "1X3X" || info.ID == "" {
		t.Fatalf("unexpected session: %+v", info)
	}
	if !info.ExpiresAt.Equal(h.clock.Now().Add(time.Hour)) {
		t.Fatalf("expected a one hour fuse, got %s", info.ExpiresAt)
	}
	until, err := h.store.GetBombCooldown(ctx, "g1")
	if err != nil || until == nil {
		t.Fatalf("expected cooldown record: %v", err)
	}
	if !until.Equal(h.clock.Now().Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected a 7 day cooldown, got %s", until)
	}
	if len(h.confirmer.Requests) != 1 || h.confirmer.Requests[0].Timeout != 15*time.Second {
		t.Fatalf("expected one 15s confirmation, got %+v", h.confirmer.Requests)
	}
	sent, ok := h.notifier.Last(KindPlanted)
	if !ok || moderationtest.FieldValue(sent, "mask") != "1X3X" {
		t.Fatalf("expected planted notification with mask, got %+v", sent)
	}
}

func TestPlantTwiceIsOnCooldown(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{}, nil)
	ctx := context.Background()

	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}
	h.clock.Advance(time.Minute)

	_, err := h.registry.Plant(ctx, plantRequest())
	if !errors.Is(err, moderation.ErrOnCooldown) {
		t.Fatalf("expected on cooldown, got %v", err)
	}
	var cooldown *moderation.CooldownError
	if !errors.As(err, &cooldown) || cooldown.Remaining != 7*24*time.Hour-time.Minute {
		t.Fatalf("unexpected remaining cooldown: %v", err)
	}
	if len(h.confirmer.Requests) != 1 {
		t.Fatalf("cooldown must reject before asking for confirmation")
	}
}

func TestPlantAllowedAfterCooldown(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{}, nil)
	ctx := context.Background()

	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}
	if _, err := h.registry.Defuse(ctx, "g1", "c1", "u2", "1732"); err != nil {
		t.Fatalf("defuse: %v", err)
	}
	h.clock.Advance(7 * 24 * time.Hour)
	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant after cooldown: %v", err)
	}
}

func TestPlantDeclineAndTimeoutClearCooldown(t *testing.T) {
	cases := []struct {
		name   string
		answer bool
		err    error
		want   error
	}{
		{"declined", false, nil, moderation.ErrDeclined},
		{"timeout", false, moderation.ErrTimeout, moderation.ErrTimeout},
	}
	for _, tc := range cases {
		h := newHarness(t, moderationtest.Roster{}, nil)
		ctx := context.Background()
		if err := h.store.SetBombCooldown(ctx, "g1", h.clock.Now().Add(-time.Hour)); err != nil {
			t.Fatalf("seed cooldown: %v", err)
		}
		h.confirmer.Answer = tc.answer
		h.confirmer.Err = tc.err

		if _, err := h.registry.Plant(ctx, plantRequest()); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		until, err := h.store.GetBombCooldown(ctx, "g1")
		if err != nil || until != nil {
			t.Fatalf("%s: expected cooldown cleared, got %v err=%v", tc.name, until, err)
		}
		if _, err := h.registry.Defuse(ctx, "g1", "c1", "u2", "1732"); !errors.Is(err, moderation.ErrNothingPlanted) {
			t.Fatalf("%s: no session may exist, got %v", tc.name, err)
		}
		if h.clock.Pending() != 0 {
			t.Fatalf("%s: no timer may be scheduled", tc.name)
		}
	}
}

func TestConcurrentPlantIsRejectedWhilePending(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{}, nil)
	ctx := context.Background()

	var nested error
	h.confirmer.Hook = func() {
		_, nested = h.registry.Plant(ctx, plantRequest())
	}
	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}
	if !errors.Is(nested, moderation.ErrPlantPending) {
		t.Fatalf("expected plant pending, got %v", nested)
	}
	if len(h.confirmer.Requests) != 1 {
		t.Fatalf("only one confirmation may be requested, got %d", len(h.confirmer.Requests))
	}
}

func TestDefuse(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{Members: []moderation.Member{{ID: "u5"}}}, nil)
	ctx := context.Background()

	if _, err := h.registry.Defuse(ctx, "g1", "c1", "u2", "1732"); !errors.Is(err, moderation.ErrNothingPlanted) {
		t.Fatalf("expected nothing planted, got %v", err)
	}
	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}

	if _, err := h.registry.Defuse(ctx, "g1", "c1", "u2", "abc"); !errors.Is(err, moderation.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	for _, guess := range []string{"1000", "1733", "1999"} {
		ok, err := h.registry.Defuse(ctx, "g1", "c1", "u2", guess)
		if err != nil || ok {
			t.Fatalf("%s: expected wrong guess, got ok=%v err=%v", guess, ok, err)
		}
	}
	if h.notifier.Count(KindWrongGuess) != 3 {
		t.Fatalf("expected 3 wrong guess notifications")
	}
	if h.clock.Pending() != 1 {
		t.Fatalf("wrong guesses must keep the fuse running")
	}

	ok, err := h.registry.Defuse(ctx, "g1", "c1", "u2", " 1732 ")
	if err != nil || !ok {
		t.Fatalf("expected defuse, got ok=%v err=%v", ok, err)
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("defuse must stop the fuse")
	}
	h.clock.Advance(2 * time.Hour)
	if h.roles.GrantCount() != 0 {
		t.Fatalf("defused bomb must never explode")
	}
	if _, err := h.registry.Defuse(ctx, "g1", "c1", "u2", "1732"); !errors.Is(err, moderation.ErrNothingPlanted) {
		t.Fatalf("session must be gone after defuse, got %v", err)
	}
}

func TestExplosionMassMutesAndReleases(t *testing.T) {
	roster := moderationtest.Roster{Members: []moderation.Member{
		{ID: "bot", Bot: true},
		{ID: "mod", Privileged: true},
		{ID: "u1"},
		{ID: "u2"},
		{ID: "already"},
		{ID: "locked"},
	}}
	h := newHarness(t, roster, staticMutes{"already": true})
	h.roles.GrantErr["locked"] = moderation.ErrForbidden
	ctx := context.Background()

	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}
	h.clock.Advance(59 * time.Minute)
	if h.roles.GrantCount() != 0 {
		t.Fatalf("bomb must not explode before the fuse ends")
	}
	h.clock.Advance(time.Minute)

	if h.roles.GrantCount() != 2 || !h.roles.Granted("u1") || !h.roles.Granted("u2") {
		t.Fatalf("expected u1 and u2 muted, got %+v", h.roles.Grants)
	}
	if h.notifier.Count(KindExploded) != 1 {
		t.Fatalf("expected explosion notification")
	}
	if _, err := h.registry.Defuse(ctx, "g1", "c1", "u2", "1732"); !errors.Is(err, moderation.ErrNothingPlanted) {
		t.Fatalf("exploded session must be gone, got %v", err)
	}

	h.clock.Advance(59 * time.Minute)
	if h.roles.RevokeCount() != 0 {
		t.Fatalf("release must wait for the full mute duration")
	}
	h.clock.Advance(time.Minute)
	if h.roles.RevokeCount() != 2 {
		t.Fatalf("expected 2 revokes, got %d", h.roles.RevokeCount())
	}
	if h.notifier.Count(KindReleased) != 1 {
		t.Fatalf("expected release notification")
	}
}

func TestShutdownLiftsMassMutes(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{Members: []moderation.Member{{ID: "u1"}}}, nil)
	ctx := context.Background()

	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}
	h.clock.Advance(time.Hour)
	if h.roles.GrantCount() != 1 {
		t.Fatalf("expected explosion")
	}

	if err := h.registry.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if h.roles.RevokeCount() != 1 {
		t.Fatalf("shutdown must lift outstanding mass mutes")
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("shutdown must stop every timer")
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, moderationtest.Roster{}, nil)
	ctx := context.Background()

	status, err := h.registry.Status(ctx, "g1")
	if err != nil || status.Armed || status.CooldownUntil != nil {
		t.Fatalf("expected idle status, got %+v err=%v", status, err)
	}
	if _, err := h.registry.Plant(ctx, plantRequest()); err != nil {
		t.Fatalf("plant: %v", err)
	}
	h.clock.Advance(10 * time.Minute)

	status, err = h.registry.Status(ctx, "g1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Armed || status.Session.Mask != "1X3X" || status.Remaining != 50*time.Minute {
		t.Fatalf("unexpected armed status: %+v", status)
	}
	if status.CooldownLeft != 7*24*time.Hour-10*time.Minute {
		t.Fatalf("unexpected cooldown: %s", status.CooldownLeft)
	}
}
