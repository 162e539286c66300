// Package reconcile は残高に基づくDiscordロールの突合処理を提供する。
// 各ティアのしきい値を満たすユーザーにロールを付与する。剥奪は行わない。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moolawar/moolabot/internal/repository"
)

// RoleProvider はDiscordロールの照会と付与を行うインターフェース。
type RoleProvider interface {
	// HasRole はユーザーが指定ロールを保持しているかを返す。
	HasRole(ctx context.Context, discordID, roleID string) (bool, error)
	// GrantRole はユーザーに指定ロールを付与する。冪等であること。
	GrantRole(ctx context.Context, discordID, roleID string) error
}

// Recorder はリコンサイル処理のメトリクスを記録するインターフェース。
type Recorder interface {
	RecordRoleGrant()
	RecordReconcileUserFailure()
	RecordReconcileDuration(duration time.Duration)
}

// Tier はロール付与の1段階を表す。Minimum以上の残高でRoleIDが付与される。
type Tier struct {
	Name    string
	RoleID  string
	Minimum decimal.Decimal
}

// Config はリコンサイラの静的ティア設定。
// ホワイトリストのしきい値は実行時にSettingsRepositoryから読む。
type Config struct {
	WhitelistRoleID  string
	MoolalistRoleID  string
	MoolalistMinimum int64
	FreeMintRoleID   string
	FreeMintMinimum  int64

	// ProviderTimeout はプロバイダ呼び出し1回あたりの上限時間。
	// 0以下の場合は親コンテキストの期限のみが適用される。
	ProviderTimeout time.Duration
}

// Reconciler は残高ティアとDiscordロールの突合を実行する。
type Reconciler struct {
	users    repository.UserRepository
	settings repository.SettingsRepository
	provider RoleProvider
	metrics  Recorder
	logger   *slog.Logger
	cfg      Config
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(
	users repository.UserRepository,
	settings repository.SettingsRepository,
	provider RoleProvider,
	metrics Recorder,
	logger *slog.Logger,
	cfg Config,
) *Reconciler {
	return &Reconciler{
		users:    users,
		settings: settings,
		provider: provider,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// tiers は現在の設定から有効なティア一覧を組み立てる。
// ロールID未設定、またはしきい値が0以下のティアは対象外。
func (r *Reconciler) tiers(ctx context.Context) ([]Tier, error) {
	var tiers []Tier

	if r.cfg.WhitelistRoleID != "" {
		min, err := r.settings.GetWhitelistMinimum(ctx)
		if err != nil {
			return nil, fmt.Errorf("ホワイトリストしきい値の取得に失敗: %w", err)
		}
		if min > 0 {
			tiers = append(tiers, Tier{
				Name:    "whitelist",
				RoleID:  r.cfg.WhitelistRoleID,
				Minimum: decimal.NewFromInt(min),
			})
		}
	}
	if r.cfg.MoolalistRoleID != "" && r.cfg.MoolalistMinimum > 0 {
		tiers = append(tiers, Tier{
			Name:    "moolalist",
			RoleID:  r.cfg.MoolalistRoleID,
			Minimum: decimal.NewFromInt(r.cfg.MoolalistMinimum),
		})
	}
	if r.cfg.FreeMintRoleID != "" && r.cfg.FreeMintMinimum > 0 {
		tiers = append(tiers, Tier{
			Name:    "freemint",
			RoleID:  r.cfg.FreeMintRoleID,
			Minimum: decimal.NewFromInt(r.cfg.FreeMintMinimum),
		})
	}
	return tiers, nil
}

// Pass はリコンサイルを1回実行する。
// ユーザー単位の失敗はログとメトリクスに記録してスキップし、処理を継続する。
func (r *Reconciler) Pass(ctx context.Context) error {
	start := time.Now()

	tiers, err := r.tiers(ctx)
	if err != nil {
		return err
	}

	var granted, failed int
	for _, tier := range tiers {
		eligible, err := r.users.ListEligible(ctx, tier.Minimum)
		if err != nil {
			return fmt.Errorf("対象ユーザーの取得に失敗 (%s): %w", tier.Name, err)
		}

		r.logger.Info("ティアのリコンサイルを開始します",
			slog.String("tier", tier.Name),
			slog.Int("eligible_count", len(eligible)),
		)

		for _, user := range eligible {
			if err := ctx.Err(); err != nil {
				return err
			}

			has, err := r.hasRole(ctx, user.DiscordID, tier.RoleID)
			if err != nil {
				r.recordUserFailure(tier.Name, user.DiscordID, err)
				failed++
				continue
			}
			if has {
				continue
			}

			if err := r.grantRole(ctx, user.DiscordID, tier.RoleID); err != nil {
				r.recordUserFailure(tier.Name, user.DiscordID, err)
				failed++
				continue
			}

			if r.metrics != nil {
				r.metrics.RecordRoleGrant()
			}
			granted++
		}
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordReconcileDuration(duration)
	}

	r.logger.Info("リコンサイルパスが完了しました",
		slog.Int("granted", granted),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// providerContext はプロバイダ呼び出し用にProviderTimeoutを適用したコンテキストを返す。
func (r *Reconciler) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.ProviderTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.ProviderTimeout)
}

func (r *Reconciler) hasRole(ctx context.Context, discordID, roleID string) (bool, error) {
	callCtx, cancel := r.providerContext(ctx)
	defer cancel()
	return r.provider.HasRole(callCtx, discordID, roleID)
}

func (r *Reconciler) grantRole(ctx context.Context, discordID, roleID string) error {
	callCtx, cancel := r.providerContext(ctx)
	defer cancel()
	return r.provider.GrantRole(callCtx, discordID, roleID)
}

func (r *Reconciler) recordUserFailure(tier, discordID string, err error) {
	r.logger.Error("ユーザーのロール突合に失敗しました",
		slog.String("tier", tier),
		slog.String("discord_id", discordID),
		slog.String("error", err.Error()),
	)
	if r.metrics != nil {
		r.metrics.RecordReconcileUserFailure()
	}
}
