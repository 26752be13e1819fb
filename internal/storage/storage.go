// Package storage persists mutes, warnings, bomb cooldowns and the moderation
// audit trail. SQLite is the default backend; Postgres is used when the driver
// is set to "postgres".
package storage

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Mute struct {
	GuildID   string
	UserID    string
	ExpiresAt time.Time
	Reason    string
}

// Expired reports whether the mute should be lifted at now.
func (m Mute) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

type Warning struct {
	ID          int64
	GuildID     string
	UserID      string
	ModeratorID string
	Reason      string
	CreatedAt   time.Time
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

// Store is the penalty store contract. Get methods return a nil pointer and a
// nil error when no record exists.
type Store interface {
	Migrate(ctx context.Context) error
	Close()

	GetMute(ctx context.Context, guildID, userID string) (*Mute, error)
	PutMute(ctx context.Context, mute Mute) error
	DeleteMute(ctx context.Context, guildID, userID string) error
	ListMutes(ctx context.Context) ([]Mute, error)
	ListExpiredMutes(ctx context.Context, now time.Time) ([]Mute, error)

	AddWarning(ctx context.Context, warning Warning) error
	ListWarnings(ctx context.Context, guildID, userID string) ([]Warning, error)
	ClearWarnings(ctx context.Context, guildID, userID string) (int64, error)

	GetBombCooldown(ctx context.Context, guildID string) (*time.Time, error)
	SetBombCooldown(ctx context.Context, guildID string, until time.Time) error
	ClearBombCooldown(ctx context.Context, guildID string) error

	AddAuditLog(ctx context.Context, log AuditLog) error
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error)
	CleanupAuditLogs(ctx context.Context, before time.Time) (int64, error)
}

// Open returns the store for driver. For SQLite dsn is a file path or
// ":memory:"; for Postgres it is a connection URL.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return NewSQLite(dsn)
	case DriverPostgres, "pgx":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

type migration struct {
	name string
	sql  string
}

func migrationScripts(dialect string) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	scripts := make([]migration, 0, len(files))
	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, migration{name: file, sql: string(content)})
	}
	return scripts, nil
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}

// Timestamps are stored as Unix milliseconds so expiries keep sub-second
// precision.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
