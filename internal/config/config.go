package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Discord
	DiscordBotToken string
	GuildID         string
	AdminRoleIDs    []string

	// Roles
	WhitelistRoleID string
	MoolalistRoleID string
	FreeMintRoleID  string
	BullRoleID      string
	BearRoleID      string

	// Tier minimums（ホワイトリストはDB側のguild_settingsが優先される）
	DefaultWhitelistMinimum int64
	MoolalistMinimum        int64
	FreeMintMinimum         int64

	// Linking
	LinkBaseURL string

	// Reconcile
	ReconcileInterval time.Duration
	ProviderTimeout   time.Duration

	// Snapshot
	SnapshotWinnerLimit int
	SnapshotLoserLimit  int

	// Rate Limit
	RateLimitLink int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.DiscordBotToken = os.Getenv("DISCORD_BOT_TOKEN")
	if cfg.DiscordBotToken == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}

	cfg.GuildID = os.Getenv("DISCORD_GUILD_ID")
	if cfg.GuildID == "" {
		missing = append(missing, "DISCORD_GUILD_ID")
	}

	cfg.LinkBaseURL = os.Getenv("LINK_BASE_URL")
	if cfg.LinkBaseURL == "" {
		missing = append(missing, "LINK_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AdminRoleIDs = getEnvList("ADMIN_ROLE_IDS")
	cfg.WhitelistRoleID = getEnvString("WHITELIST_ROLE_ID", "")
	cfg.MoolalistRoleID = getEnvString("MOOLALIST_ROLE_ID", "")
	cfg.FreeMintRoleID = getEnvString("FREE_MINT_ROLE_ID", "")
	cfg.BullRoleID = getEnvString("BULL_ROLE_ID", "")
	cfg.BearRoleID = getEnvString("BEAR_ROLE_ID", "")
	cfg.DefaultWhitelistMinimum = getEnvInt64("WHITELIST_MINIMUM", 100)
	cfg.MoolalistMinimum = getEnvInt64("MOOLALIST_MINIMUM", 0)
	cfg.FreeMintMinimum = getEnvInt64("FREE_MINT_MINIMUM", 0)
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 6*time.Hour)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.SnapshotWinnerLimit = getEnvInt("SNAPSHOT_WINNER_LIMIT", 2000)
	cfg.SnapshotLoserLimit = getEnvInt("SNAPSHOT_LOSER_LIMIT", 700)
	cfg.RateLimitLink = getEnvInt("RATE_LIMIT_LINK", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの環境変数をスライスとして読み込む。
// 空要素は除去する。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
