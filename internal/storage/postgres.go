package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	scripts, err := migrationScripts("postgres")
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := s.pool.Exec(ctx, script.sql); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", script.name, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetMute(ctx context.Context, guildID, userID string) (*Mute, error) {
	var (
		mute      Mute
		expiresAt int64
	)
	err := s.pool.QueryRow(ctx, `SELECT guild_id, user_id, expires_at, reason FROM mutes WHERE guild_id = $1 AND user_id = $2`, guildID, userID).
		Scan(&mute.GuildID, &mute.UserID, &expiresAt, &mute.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mute for user %s: %w", userID, err)
	}
	mute.ExpiresAt = fromMillis(expiresAt)
	return &mute, nil
}

func (s *PostgresStore) PutMute(ctx context.Context, mute Mute) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mutes (guild_id, user_id, expires_at, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			expires_at = EXCLUDED.expires_at,
			reason = EXCLUDED.reason
	`, mute.GuildID, mute.UserID, mute.ExpiresAt.UnixMilli(), mute.Reason)
	if err != nil {
		return fmt.Errorf("failed to upsert mute for user %s: %w", mute.UserID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteMute(ctx context.Context, guildID, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM mutes WHERE guild_id = $1 AND user_id = $2`, guildID, userID); err != nil {
		return fmt.Errorf("failed to delete mute for user %s: %w", userID, err)
	}
	return nil
}

func (s *PostgresStore) ListMutes(ctx context.Context) ([]Mute, error) {
	mutes, err := s.queryMutes(ctx, `SELECT guild_id, user_id, expires_at, reason FROM mutes ORDER BY expires_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutes: %w", err)
	}
	return mutes, nil
}

func (s *PostgresStore) ListExpiredMutes(ctx context.Context, now time.Time) ([]Mute, error) {
	mutes, err := s.queryMutes(ctx, `SELECT guild_id, user_id, expires_at, reason FROM mutes WHERE expires_at <= $1 ORDER BY expires_at`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired mutes: %w", err)
	}
	return mutes, nil
}

func (s *PostgresStore) queryMutes(ctx context.Context, query string, args ...any) ([]Mute, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mutes := []Mute{}
	for rows.Next() {
		var (
			mute      Mute
			expiresAt int64
		)
		if err := rows.Scan(&mute.GuildID, &mute.UserID, &expiresAt, &mute.Reason); err != nil {
			return nil, err
		}
		mute.ExpiresAt = fromMillis(expiresAt)
		mutes = append(mutes, mute)
	}
	return mutes, rows.Err()
}

func (s *PostgresStore) AddWarning(ctx context.Context, warning Warning) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO warnings (guild_id, user_id, moderator_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, warning.GuildID, warning.UserID, warning.ModeratorID, warning.Reason, warning.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert warning for user %s: %w", warning.UserID, err)
	}
	return nil
}

func (s *PostgresStore) ListWarnings(ctx context.Context, guildID, userID string) ([]Warning, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, user_id, moderator_id, reason, created_at
		FROM warnings
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY created_at, id
	`, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list warnings for user %s: %w", userID, err)
	}
	defer rows.Close()

	warnings := []Warning{}
	for rows.Next() {
		var (
			warning   Warning
			createdAt int64
		)
		if err := rows.Scan(&warning.ID, &warning.GuildID, &warning.UserID, &warning.ModeratorID, &warning.Reason, &createdAt); err != nil {
			return nil, err
		}
		warning.CreatedAt = fromMillis(createdAt)
		warnings = append(warnings, warning)
	}
	return warnings, rows.Err()
}

func (s *PostgresStore) ClearWarnings(ctx context.Context, guildID, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM warnings WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear warnings for user %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetBombCooldown(ctx context.Context, guildID string) (*time.Time, error) {
	var until int64
	err := s.pool.QueryRow(ctx, `SELECT cooldown_until FROM bomb_cooldowns WHERE guild_id = $1`, guildID).Scan(&until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bomb cooldown for guild %s: %w", guildID, err)
	}
	value := fromMillis(until)
	return &value, nil
}

func (s *PostgresStore) SetBombCooldown(ctx context.Context, guildID string, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bomb_cooldowns (guild_id, cooldown_until) VALUES ($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET cooldown_until = EXCLUDED.cooldown_until
	`, guildID, until.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to set bomb cooldown for guild %s: %w", guildID, err)
	}
	return nil
}

func (s *PostgresStore) ClearBombCooldown(ctx context.Context, guildID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bomb_cooldowns WHERE guild_id = $1`, guildID); err != nil {
		return fmt.Errorf("failed to clear bomb cooldown for guild %s: %w", guildID, err)
	}
	return nil
}

func (s *PostgresStore) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.UnixMilli())
	return err
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC
	`, guildID, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var (
			entry     AuditLog
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.GuildID, &entry.UserID, &entry.Level, &entry.Event, &entry.Details, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = fromMillis(createdAt)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) CleanupAuditLogs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
