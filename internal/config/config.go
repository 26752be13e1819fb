package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string         `yaml:"discord_token"`
	GuildID       string         `yaml:"guild_id"`
	LogLevel      string         `yaml:"log_level"`
	Language      string         `yaml:"language"`
	RetentionDays int            `yaml:"retention_days"`
	Database      DatabaseConfig `yaml:"database"`
	Health        HealthConfig   `yaml:"health"`
	Mute          MuteConfig     `yaml:"mute"`
	Warnings      WarningsConfig `yaml:"warnings"`
	Bomb          BombConfig     `yaml:"bomb"`
	Spam          SpamConfig     `yaml:"spam"`
	Games         GamesConfig    `yaml:"games"`
	Notifications NotifyConfig   `yaml:"notifications"`
	Access        AccessConfig   `yaml:"access"`
	Tracing       TracingConfig  `yaml:"tracing"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HealthConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
}

type MuteConfig struct {
	RoleID               string `yaml:"role_id"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	DefaultReason        string `yaml:"default_reason"`
}

type WarningsConfig struct {
	Threshold   int    `yaml:"threshold"`
	WindowHours int    `yaml:"window_hours"`
	MuteHours   int    `yaml:"mute_hours"`
	MuteReason  string `yaml:"mute_reason"`
}

type BombConfig struct {
	Enabled             bool `yaml:"enabled"`
	ConfirmSeconds      int  `yaml:"confirm_seconds"`
	FuseMinutes         int  `yaml:"fuse_minutes"`
	CooldownDays        int  `yaml:"cooldown_days"`
	MassMuteMinutes     int  `yaml:"mass_mute_minutes"`
	MassMuteConcurrency int  `yaml:"mass_mute_concurrency"`
}

type SpamConfig struct {
	Enabled          bool `yaml:"enabled"`
	WindowSeconds    int  `yaml:"window_seconds"`
	ChannelThreshold int  `yaml:"channel_threshold"`
	CooldownSeconds  int  `yaml:"cooldown_seconds"`
	PreviewLength    int  `yaml:"preview_length"`
	PruneSeconds     int  `yaml:"prune_seconds"`
}

type GamesConfig struct {
	Enabled     bool `yaml:"enabled"`
	Chambers    int  `yaml:"chambers"`
	MuteSeconds int  `yaml:"mute_seconds"`
}

type NotifyConfig struct {
	LogChannelID   string      `yaml:"log_channel_id"`
	AlertChannelID string      `yaml:"alert_channel_id"`
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EventLog       bool        `yaml:"event_log"`
	MessageCache   int         `yaml:"message_cache"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

type AccessConfig struct {
	ModeratorRoleIDs []string `yaml:"moderator_role_ids"`
	ProtectedRoleIDs []string `yaml:"protected_role_ids"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		Language:      "ru",
		RetentionDays: 30,
		Database:      DatabaseConfig{Driver: "sqlite", DSN: "bot_data.db"},
		Health:        HealthConfig{Enabled: false, Addr: ":8080", MetricsPath: "/metrics"},
		Mute:          MuteConfig{SweepIntervalSeconds: 60, DefaultReason: "Не указано"},
		Warnings: WarningsConfig{
			Threshold:   3,
			WindowHours: 24,
			MuteHours:   24,
			MuteReason:  "3 предупреждения за 24 часа",
		},
		Bomb: BombConfig{
			Enabled:             true,
			ConfirmSeconds:      15,
			FuseMinutes:         60,
			CooldownDays:        7,
			MassMuteMinutes:     60,
			MassMuteConcurrency: 8,
		},
		Spam: SpamConfig{
			Enabled:          true,
			WindowSeconds:    120,
			ChannelThreshold: 3,
			CooldownSeconds:  300,
			PreviewLength:    300,
			PruneSeconds:     60,
		},
		Games:         GamesConfig{Enabled: true, Chambers: 6, MuteSeconds: 60},
		Notifications: NotifyConfig{
			AuditToChannel: true,
			EventLog:       true,
			MessageCache:   500,
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
		Tracing: TracingConfig{Insecure: true, ServiceName: "stakan-guard"},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	// .env is optional and never overrides variables already set.
	_ = godotenv.Load()

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Mute.RoleID == "" {
		return Config{}, errors.New("MUTE_ROLE_ID is required")
	}

	cfg.Language = normalizeLanguage(cfg.Language)
	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.GuildID = envString("GUILD_ID", cfg.GuildID)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Language = envString("LANGUAGE", cfg.Language)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)

	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", envString("DATABASE_PATH", cfg.Database.DSN))

	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Health.MetricsPath = envString("METRICS_PATH", cfg.Health.MetricsPath)

	cfg.Mute.RoleID = envString("MUTE_ROLE_ID", cfg.Mute.RoleID)
	cfg.Mute.SweepIntervalSeconds = envInt("MUTE_SWEEP_INTERVAL_SECONDS", cfg.Mute.SweepIntervalSeconds)

	cfg.Warnings.Threshold = envInt("WARNINGS_THRESHOLD", cfg.Warnings.Threshold)
	cfg.Warnings.WindowHours = envInt("WARNINGS_WINDOW_HOURS", cfg.Warnings.WindowHours)
	cfg.Warnings.MuteHours = envInt("WARNINGS_MUTE_HOURS", cfg.Warnings.MuteHours)

	cfg.Bomb.Enabled = envBool("BOMB_ENABLED", cfg.Bomb.Enabled)
	cfg.Bomb.CooldownDays = envInt("BOMB_COOLDOWN_DAYS", cfg.Bomb.CooldownDays)

	cfg.Spam.Enabled = envBool("SPAM_ENABLED", cfg.Spam.Enabled)
	cfg.Spam.WindowSeconds = envInt("SPAM_WINDOW_SECONDS", cfg.Spam.WindowSeconds)
	cfg.Spam.ChannelThreshold = envInt("SPAM_CHANNELS_THRESHOLD", cfg.Spam.ChannelThreshold)
	cfg.Spam.CooldownSeconds = envInt("SPAM_ALERT_COOLDOWN_SECONDS", cfg.Spam.CooldownSeconds)

	cfg.Games.Enabled = envBool("GAMES_ENABLED", cfg.Games.Enabled)

	cfg.Notifications.LogChannelID = envString("LOG_CHANNEL_ID", cfg.Notifications.LogChannelID)
	cfg.Notifications.AlertChannelID = envString("ALERT_CHANNEL_ID", cfg.Notifications.AlertChannelID)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Notifications.EventLog = envBool("EVENT_LOG_ENABLED", cfg.Notifications.EventLog)
	cfg.Notifications.MessageCache = envInt("MESSAGE_CACHE_SIZE", cfg.Notifications.MessageCache)

	cfg.Access.ModeratorRoleIDs = envList("MODERATOR_ROLE_IDS", cfg.Access.ModeratorRoleIDs)
	cfg.Access.ProtectedRoleIDs = envList("PROTECTED_ROLE_IDS", cfg.Access.ProtectedRoleIDs)

	cfg.Tracing.Endpoint = envString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.ServiceName = envString("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)
}

func (c MuteConfig) SweepInterval() time.Duration {
	return seconds(c.SweepIntervalSeconds, 60)
}

func (c SpamConfig) PruneInterval() time.Duration {
	return seconds(c.PruneSeconds, 60)
}

func (c Config) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func normalizeLanguage(value string) string {
	switch strings.ToLower(value) {
	case "en":
		return "en"
	default:
		return "ru"
	}
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	default:
		return "sqlite"
	}
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
