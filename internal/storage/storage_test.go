package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

// newPostgresStore skips unless TEST_PG_DSN points at a disposable database.
func newPostgresStore(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"mutes", "warnings", "bomb_cooldowns", "audit_logs"} {
		if _, err := store.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestPostgresStore(t *testing.T) {
	runStoreSuite(t, newPostgresStore)
}

func runStoreSuite(t *testing.T, open func(*testing.T) Store) {
	t.Run("mute upsert overwrites", func(t *testing.T) { testMuteUpsert(t, open(t)) })
	t.Run("expired mutes", func(t *testing.T) { testExpiredMutes(t, open(t)) })
	t.Run("sub-second expiry", func(t *testing.T) { testSubSecondExpiry(t, open(t)) })
	t.Run("warnings", func(t *testing.T) { testWarnings(t, open(t)) })
	t.Run("bomb cooldown", func(t *testing.T) { testBombCooldown(t, open(t)) })
	t.Run("audit logs", func(t *testing.T) { testAuditLogs(t, open(t)) })
}

func testMuteUpsert(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	if err := store.PutMute(ctx, Mute{GuildID: "g1", UserID: "u1", ExpiresAt: base.Add(time.Hour), Reason: "spam"}); err != nil {
		t.Fatalf("put mute: %v", err)
	}
	if err := store.PutMute(ctx, Mute{GuildID: "g1", UserID: "u1", ExpiresAt: base.Add(2 * time.Hour), Reason: "again"}); err != nil {
		t.Fatalf("overwrite mute: %v", err)
	}

	got, err := store.GetMute(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("get mute: %v", err)
	}
	if got == nil {
		t.Fatalf("expected mute record")
	}
	if !got.ExpiresAt.Equal(base.Add(2*time.Hour)) || got.Reason != "again" {
		t.Fatalf("expected overwritten record, got %+v", got)
	}

	all, err := store.ListMutes(ctx)
	if err != nil {
		t.Fatalf("list mutes: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one record per member, got %d", len(all))
	}

	other, err := store.GetMute(ctx, "g2", "u1")
	if err != nil {
		t.Fatalf("get other guild: %v", err)
	}
	if other != nil {
		t.Fatalf("records must be scoped by guild, got %+v", other)
	}

	if err := store.DeleteMute(ctx, "g1", "u1"); err != nil {
		t.Fatalf("delete mute: %v", err)
	}
	if err := store.DeleteMute(ctx, "g1", "u1"); err != nil {
		t.Fatalf("delete missing mute: %v", err)
	}
	got, err = store.GetMute(ctx, "g1", "u1")
	if err != nil || got != nil {
		t.Fatalf("expected no record after delete, got %+v err=%v", got, err)
	}
}

func testExpiredMutes(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	records := []Mute{
		{GuildID: "g1", UserID: "past", ExpiresAt: now.Add(-time.Minute)},
		{GuildID: "g1", UserID: "exact", ExpiresAt: now},
		{GuildID: "g1", UserID: "future", ExpiresAt: now.Add(time.Minute)},
	}
	for _, record := range records {
		if err := store.PutMute(ctx, record); err != nil {
			t.Fatalf("put mute %s: %v", record.UserID, err)
		}
	}

	expired, err := store.ListExpiredMutes(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired records, got %d", len(expired))
	}
	if expired[0].UserID != "past" || expired[1].UserID != "exact" {
		t.Fatalf("unexpected expired order: %+v", expired)
	}
	for _, record := range expired {
		if !record.Expired(now) {
			t.Fatalf("record %s should report expired", record.UserID)
		}
	}
	if records[2].Expired(now) {
		t.Fatalf("future record should not report expired")
	}
}

func testSubSecondExpiry(t *testing.T, store Store) {
	ctx := context.Background()
	expires := time.Date(2024, 3, 1, 12, 1, 30, 900_000_000, time.UTC)
	if err := store.PutMute(ctx, Mute{GuildID: "g1", UserID: "u1", ExpiresAt: expires}); err != nil {
		t.Fatalf("put mute: %v", err)
	}

	got, err := store.GetMute(ctx, "g1", "u1")
	if err != nil || got == nil {
		t.Fatalf("get mute: %v %v", got, err)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %s, got %s", expires, got.ExpiresAt)
	}

	expired, err := store.ListExpiredMutes(ctx, expires.Add(-500*time.Millisecond))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("mute expiring in 500ms must not be listed, got %+v", expired)
	}
	expired, err = store.ListExpiredMutes(ctx, expires)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected the mute at its expiry, got %d", len(expired))
	}

	created := time.Date(2024, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	if err := store.AddWarning(ctx, Warning{GuildID: "g1", UserID: "u1", Reason: "r", CreatedAt: created}); err != nil {
		t.Fatalf("add warning: %v", err)
	}
	list, err := store.ListWarnings(ctx, "g1", "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("list warnings: %v %v", list, err)
	}
	if !list[0].CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %s, got %s", created, list[0].CreatedAt)
	}
}

func TestSQLiteMigrateConvertsSecondTimestamps(t *testing.T) {
	store, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, `INSERT INTO mutes (guild_id, user_id, expires_at, reason) VALUES ('g1', 'legacy', 1700000000, '')`); err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate a third time: %v", err)
	}

	got, err := store.GetMute(ctx, "g1", "legacy")
	if err != nil || got == nil {
		t.Fatalf("get mute: %v %v", got, err)
	}
	if want := time.Unix(1_700_000_000, 0).UTC(); !got.ExpiresAt.Equal(want) {
		t.Fatalf("expected %s after conversion, got %s", want, got.ExpiresAt)
	}
}

func testWarnings(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	for i, reason := range []string{"first", "second", "third"} {
		warning := Warning{GuildID: "g1", UserID: "u1", ModeratorID: "m1", Reason: reason, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.AddWarning(ctx, warning); err != nil {
			t.Fatalf("add warning: %v", err)
		}
	}
	if err := store.AddWarning(ctx, Warning{GuildID: "g1", UserID: "u2", Reason: "other", CreatedAt: base}); err != nil {
		t.Fatalf("add warning: %v", err)
	}

	list, err := store.ListWarnings(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list warnings: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 warnings, got %d", len(list))
	}
	if list[0].Reason != "first" || list[2].Reason != "third" {
		t.Fatalf("expected oldest first, got %+v", list)
	}
	if list[0].ModeratorID != "m1" || !list[1].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected warning fields: %+v", list[1])
	}

	removed, err := store.ClearWarnings(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("clear warnings: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	removed, err = store.ClearWarnings(ctx, "g1", "u1")
	if err != nil || removed != 0 {
		t.Fatalf("expected nothing to clear, got %d err=%v", removed, err)
	}

	others, err := store.ListWarnings(ctx, "g1", "u2")
	if err != nil {
		t.Fatalf("list warnings: %v", err)
	}
	if len(others) != 1 {
		t.Fatalf("clearing one member must not touch another, got %d", len(others))
	}
}

func testBombCooldown(t *testing.T, store Store) {
	ctx := context.Background()
	until := time.Unix(1_700_600_000, 0).UTC()

	got, err := store.GetBombCooldown(ctx, "g1")
	if err != nil || got != nil {
		t.Fatalf("expected no cooldown, got %v err=%v", got, err)
	}

	if err := store.SetBombCooldown(ctx, "g1", until); err != nil {
		t.Fatalf("set cooldown: %v", err)
	}
	if err := store.SetBombCooldown(ctx, "g1", until.Add(time.Hour)); err != nil {
		t.Fatalf("overwrite cooldown: %v", err)
	}
	got, err = store.GetBombCooldown(ctx, "g1")
	if err != nil {
		t.Fatalf("get cooldown: %v", err)
	}
	if got == nil || !got.Equal(until.Add(time.Hour)) {
		t.Fatalf("expected overwritten cooldown, got %v", got)
	}

	if err := store.ClearBombCooldown(ctx, "g1"); err != nil {
		t.Fatalf("clear cooldown: %v", err)
	}
	got, err = store.GetBombCooldown(ctx, "g1")
	if err != nil || got != nil {
		t.Fatalf("expected cleared cooldown, got %v err=%v", got, err)
	}
}

func testAuditLogs(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	entries := []AuditLog{
		{GuildID: "g1", UserID: "u1", Level: "info", Event: "mute", Details: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{GuildID: "g1", UserID: "u1", Level: "info", Event: "mute", Details: "recent", CreatedAt: now.Add(-time.Hour)},
		{GuildID: "g1", UserID: "u2", Level: "high", Event: "spam", Details: "latest", CreatedAt: now},
		{GuildID: "g2", UserID: "u3", Level: "info", Event: "warn", CreatedAt: now},
	}
	for _, entry := range entries {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	logs, err := store.ListAuditLogs(ctx, "g1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs in window, got %d", len(logs))
	}
	if logs[0].Details != "latest" {
		t.Fatalf("expected newest first, got %+v", logs[0])
	}

	removed, err := store.CleanupAuditLogs(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpenSQLite(t *testing.T) {
	store, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrations are idempotent.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
