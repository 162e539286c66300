// Package discord はDiscordボットのセッション管理とスラッシュコマンド処理を提供する。
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/moolawar/moolabot/internal/ledger"
	"github.com/moolawar/moolabot/internal/linking"
	"github.com/moolawar/moolabot/internal/repository"
	"github.com/moolawar/moolabot/internal/snapshot"
	"github.com/moolawar/moolabot/internal/worker/reconcile"
)

// Config はボットの接続とロール設定。
type Config struct {
	Token        string
	GuildID      string
	AdminRoleIDs []string
	BullRoleID   string
	BearRoleID   string
}

// Deps はボットが依存するサービス群。
type Deps struct {
	Ledger     *ledger.Service
	Linking    *linking.Service
	Snapshot   *snapshot.Exporter
	Reconciler *reconcile.Reconciler
	Settings   repository.SettingsRepository
	Logger     *slog.Logger
}

// Bot はDiscordセッションとインタラクションハンドラーを保持する。
type Bot struct {
	session    *discordgo.Session
	guildID    string
	adminRoles []string
	bullRoleID string
	bearRoleID string

	ledger     *ledger.Service
	linking    *linking.Service
	snapshot   *snapshot.Exporter
	reconciler *reconcile.Reconciler
	settings   repository.SettingsRepository
	roles      *RoleProvider
	logger     *slog.Logger
}

// New はDiscordセッションを初期化しBotを生成する。接続はStartで行う。
func New(cfg Config, deps Deps) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("Discordセッションの初期化に失敗: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	b := &Bot{
		session:    session,
		guildID:    cfg.GuildID,
		adminRoles: cfg.AdminRoleIDs,
		bullRoleID: cfg.BullRoleID,
		bearRoleID: cfg.BearRoleID,
		ledger:     deps.Ledger,
		linking:    deps.Linking,
		snapshot:   deps.Snapshot,
		reconciler: deps.Reconciler,
		settings:   deps.Settings,
		roles:      NewRoleProvider(session, cfg.GuildID),
		logger:     deps.Logger,
	}

	session.AddHandler(b.onInteractionCreate)

	return b, nil
}

// Start はゲートウェイ接続を開き、スラッシュコマンドをギルドに登録する。
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("ゲートウェイ接続に失敗: %w", err)
	}

	appID := b.session.State.User.ID
	if _, err := b.session.ApplicationCommandBulkOverwrite(
		appID, b.guildID, applicationCommands(), discordgo.WithContext(ctx),
	); err != nil {
		b.session.Close()
		return fmt.Errorf("スラッシュコマンドの登録に失敗: %w", err)
	}

	b.logger.Info("Discordボットを開始しました",
		slog.String("guild_id", b.guildID),
		slog.Int("command_count", len(applicationCommands())),
	)

	return nil
}

// Stop はゲートウェイ接続を閉じる。
func (b *Bot) Stop() error {
	b.logger.Info("Discordボットを停止します")
	return b.session.Close()
}

// Roles はボットのセッションを共有するRoleProviderを返す。
func (b *Bot) Roles() *RoleProvider {
	return b.roles
}

var _ reconcile.RoleProvider = (*RoleProvider)(nil)

// SetReconciler は手動実行コマンドから使うリコンサイラを設定する。
// ロール付与がボット自身のセッションに依存するため、生成後に注入する。
func (b *Bot) SetReconciler(r *reconcile.Reconciler) {
	b.reconciler = r
}
