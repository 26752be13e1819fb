package analytics

import (
	"context"
	"testing"
	"time"

	"stakan-guard/internal/storage"
)

func TestReportCounts(t *testing.T) {
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []storage.AuditLog{
		{GuildID: "g1", UserID: "u1", Level: "INFO", Event: "mute", CreatedAt: now.Add(-time.Hour)},
		{GuildID: "g1", UserID: "u1", Level: "INFO", Event: "warn", CreatedAt: now.Add(-2 * time.Hour)},
		{GuildID: "g1", UserID: "u2", Level: "WARN", Event: "warn", CreatedAt: now.Add(-3 * time.Hour)},
		{GuildID: "g1", Level: "CRIT", Event: "bomb_exploded", CreatedAt: now.Add(-4 * time.Hour)},
		{GuildID: "g1", UserID: "u3", Level: "INFO", Event: "mute", CreatedAt: now.Add(-72 * time.Hour)},
		{GuildID: "g2", UserID: "u4", Level: "INFO", Event: "mute", CreatedAt: now},
	}
	for _, entry := range entries {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	report, err := New(store).Report(ctx, "g1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 4 {
		t.Fatalf("expected 4 entries, got %d", report.Total)
	}
	if report.ByLevel["INFO"] != 2 || report.ByLevel["CRIT"] != 1 {
		t.Fatalf("unexpected levels: %v", report.ByLevel)
	}
	if events := report.Events(); len(events) != 3 || events[0] != "warn" {
		t.Fatalf("unexpected event order: %v", events)
	}
	if len(report.TopUsers) != 2 || report.TopUsers[0].UserID != "u1" || report.TopUsers[0].Count != 2 {
		t.Fatalf("unexpected top users: %+v", report.TopUsers)
	}
}
