package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sqlx.DB
}

type muteRow struct {
	GuildID   string `db:"guild_id"`
	UserID    string `db:"user_id"`
	ExpiresAt int64  `db:"expires_at"`
	Reason    string `db:"reason"`
}

func (r muteRow) toMute() Mute {
	return Mute{GuildID: r.GuildID, UserID: r.UserID, ExpiresAt: fromMillis(r.ExpiresAt), Reason: r.Reason}
}

type warningRow struct {
	ID          int64  `db:"id"`
	GuildID     string `db:"guild_id"`
	UserID      string `db:"user_id"`
	ModeratorID string `db:"moderator_id"`
	Reason      string `db:"reason"`
	CreatedAt   int64  `db:"created_at"`
}

type auditRow struct {
	ID        int64  `db:"id"`
	GuildID   string `db:"guild_id"`
	UserID    string `db:"user_id"`
	Level     string `db:"level"`
	Event     string `db:"event"`
	Details   string `db:"details"`
	CreatedAt int64  `db:"created_at"`
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	scripts, err := migrationScripts("sqlite")
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := s.db.ExecContext(ctx, script.sql); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", script.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetMute(ctx context.Context, guildID, userID string) (*Mute, error) {
	var row muteRow
	err := s.db.GetContext(ctx, &row, `SELECT guild_id, user_id, expires_at, reason FROM mutes WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mute for user %s: %w", userID, err)
	}
	mute := row.toMute()
	return &mute, nil
}

func (s *SQLiteStore) PutMute(ctx context.Context, mute Mute) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO mutes (guild_id, user_id, expires_at, reason)
		VALUES (:guild_id, :user_id, :expires_at, :reason)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			expires_at = excluded.expires_at,
			reason = excluded.reason
	`, muteRow{GuildID: mute.GuildID, UserID: mute.UserID, ExpiresAt: mute.ExpiresAt.UnixMilli(), Reason: mute.Reason})
	if err != nil {
		return fmt.Errorf("failed to upsert mute for user %s: %w", mute.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMute(ctx context.Context, guildID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutes WHERE guild_id = ? AND user_id = ?`, guildID, userID); err != nil {
		return fmt.Errorf("failed to delete mute for user %s: %w", userID, err)
	}
	return nil
}

func (s *SQLiteStore) ListMutes(ctx context.Context) ([]Mute, error) {
	var rows []muteRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT guild_id, user_id, expires_at, reason FROM mutes ORDER BY expires_at`); err != nil {
		return nil, fmt.Errorf("failed to list mutes: %w", err)
	}
	return muteRows(rows), nil
}

func (s *SQLiteStore) ListExpiredMutes(ctx context.Context, now time.Time) ([]Mute, error) {
	var rows []muteRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT guild_id, user_id, expires_at, reason FROM mutes WHERE expires_at <= ? ORDER BY expires_at`, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("failed to list expired mutes: %w", err)
	}
	return muteRows(rows), nil
}

func (s *SQLiteStore) AddWarning(ctx context.Context, warning Warning) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO warnings (guild_id, user_id, moderator_id, reason, created_at)
		VALUES (:guild_id, :user_id, :moderator_id, :reason, :created_at)
	`, warningRow{
		GuildID:     warning.GuildID,
		UserID:      warning.UserID,
		ModeratorID: warning.ModeratorID,
		Reason:      warning.Reason,
		CreatedAt:   warning.CreatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to insert warning for user %s: %w", warning.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) ListWarnings(ctx context.Context, guildID, userID string) ([]Warning, error) {
	var rows []warningRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, guild_id, user_id, moderator_id, reason, created_at
		FROM warnings
		WHERE guild_id = ? AND user_id = ?
		ORDER BY created_at, id
	`, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list warnings for user %s: %w", userID, err)
	}
	warnings := make([]Warning, 0, len(rows))
	for _, row := range rows {
		warnings = append(warnings, Warning{
			ID:          row.ID,
			GuildID:     row.GuildID,
			UserID:      row.UserID,
			ModeratorID: row.ModeratorID,
			Reason:      row.Reason,
			CreatedAt:   fromMillis(row.CreatedAt),
		})
	}
	return warnings, nil
}

func (s *SQLiteStore) ClearWarnings(ctx context.Context, guildID, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM warnings WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear warnings for user %s: %w", userID, err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) GetBombCooldown(ctx context.Context, guildID string) (*time.Time, error) {
	var until int64
	err := s.db.GetContext(ctx, &until, `SELECT cooldown_until FROM bomb_cooldowns WHERE guild_id = ?`, guildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bomb cooldown for guild %s: %w", guildID, err)
	}
	value := fromMillis(until)
	return &value, nil
}

func (s *SQLiteStore) SetBombCooldown(ctx context.Context, guildID string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bomb_cooldowns (guild_id, cooldown_until) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET cooldown_until = excluded.cooldown_until
	`, guildID, until.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set bomb cooldown for guild %s: %w", guildID, err)
	}
	return nil
}

func (s *SQLiteStore) ClearBombCooldown(ctx context.Context, guildID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bomb_cooldowns WHERE guild_id = ?`, guildID); err != nil {
		return fmt.Errorf("failed to clear bomb cooldown for guild %s: %w", guildID, err)
	}
	return nil
}

func (s *SQLiteStore) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, guildID, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	return auditRows(rows), nil
}

func (s *SQLiteStore) CleanupAuditLogs(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func muteRows(rows []muteRow) []Mute {
	mutes := make([]Mute, 0, len(rows))
	for _, row := range rows {
		mutes = append(mutes, row.toMute())
	}
	return mutes
}

func auditRows(rows []auditRow) []AuditLog {
	logs := make([]AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, AuditLog{
			ID:        row.ID,
			GuildID:   row.GuildID,
			UserID:    row.UserID,
			Level:     row.Level,
			Event:     row.Event,
			Details:   row.Details,
			CreatedAt: fromMillis(row.CreatedAt),
		})
	}
	return logs
}
