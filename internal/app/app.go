// Package app はアプリケーションの起動モードごとのワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moolawar/moolabot/internal/config"
	"github.com/moolawar/moolabot/internal/database"
	"github.com/moolawar/moolabot/internal/discord"
	"github.com/moolawar/moolabot/internal/handler"
	"github.com/moolawar/moolabot/internal/ledger"
	"github.com/moolawar/moolabot/internal/linking"
	"github.com/moolawar/moolabot/internal/logger"
	"github.com/moolawar/moolabot/internal/metrics"
	"github.com/moolawar/moolabot/internal/middleware"
	"github.com/moolawar/moolabot/internal/repository"
	"github.com/moolawar/moolabot/internal/snapshot"
	"github.com/moolawar/moolabot/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("guild_id", cfg.GuildID),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はボット+APIサーバーモードで起動する。
// DB接続を開き、Discordボットと連携APIサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db, cfg.DefaultWhitelistMinimum)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	ledgerService := ledger.NewService(userRepo, collector)
	linkingService := linking.NewService(userRepo, tokenRepo, cfg.LinkBaseURL, collector)
	exporter := snapshot.NewExporter(userRepo, cfg.SnapshotWinnerLimit, cfg.SnapshotLoserLimit)

	// 5. Discordボットの初期化
	bot, err := discord.New(discord.Config{
		Token:        cfg.DiscordBotToken,
		GuildID:      cfg.GuildID,
		AdminRoleIDs: cfg.AdminRoleIDs,
		BullRoleID:   cfg.BullRoleID,
		BearRoleID:   cfg.BearRoleID,
	}, discord.Deps{
		Ledger:   ledgerService,
		Linking:  linkingService,
		Snapshot: exporter,
		Settings: settingsRepo,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create discord bot: %w", err)
	}

	// 6. 手動実行用リコンサイラ（ロール操作はボットのセッションを共有する）
	reconciler := reconcile.NewReconciler(
		userRepo, settingsRepo, bot.Roles(), collector, slog.Default(),
		reconcile.Config{
			WhitelistRoleID:  cfg.WhitelistRoleID,
			MoolalistRoleID:  cfg.MoolalistRoleID,
			MoolalistMinimum: cfg.MoolalistMinimum,
			FreeMintRoleID:   cfg.FreeMintRoleID,
			FreeMintMinimum:  cfg.FreeMintMinimum,
			ProviderTimeout:  cfg.ProviderTimeout,
		},
	)
	bot.SetReconciler(reconciler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start discord bot: %w", err)
	}
	defer bot.Stop()

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitLink))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		LinkService:       linkingService,
		DB:                db,
		MetricsHandler:    metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runWorker はリコンサイルワーカーモードで起動する。
// ゲートウェイ接続は開かず、Discord REST API経由でロールを突合する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	settingsRepo := repository.NewPostgresSettingsRepo(db, cfg.DefaultWhitelistMinimum)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ロールプロバイダーの初期化（REST APIのみ使用するため接続は開かない）
	provider, err := discord.NewRESTRoleProvider(cfg.DiscordBotToken, cfg.GuildID)
	if err != nil {
		return fmt.Errorf("failed to create role provider: %w", err)
	}

	// 5. リコンサイラとスケジューラの初期化
	reconciler := reconcile.NewReconciler(
		userRepo, settingsRepo, provider, collector, slog.Default(),
		reconcile.Config{
			WhitelistRoleID:  cfg.WhitelistRoleID,
			MoolalistRoleID:  cfg.MoolalistRoleID,
			MoolalistMinimum: cfg.MoolalistMinimum,
			FreeMintRoleID:   cfg.FreeMintRoleID,
			FreeMintMinimum:  cfg.FreeMintMinimum,
			ProviderTimeout:  cfg.ProviderTimeout,
		},
	)
	scheduler := reconcile.NewScheduler(reconciler, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// メトリクスエンドポイントをバックグラウンドで公開
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: metrics.SetupMetricsRoute(registry),
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
	)

	// リコンサイルスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.ReconcileInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
