package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresSettingsRepo はPostgreSQLを使用したギルド設定リポジトリ。
// 設定はマイグレーションで投入される単一行（id = 1）に保持する。
type PostgresSettingsRepo struct {
	db *sql.DB
	// defaultWhitelistMinimum は設定行が存在しない場合に返すしきい値。
	defaultWhitelistMinimum int64
}

// NewPostgresSettingsRepo はPostgresSettingsRepoを生成する。
func NewPostgresSettingsRepo(db *sql.DB, defaultWhitelistMinimum int64) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{
		db:                      db,
		defaultWhitelistMinimum: defaultWhitelistMinimum,
	}
}

// GetWhitelistMinimum はホワイトリスト付与の最低残高を返す。
// 設定行が未投入の場合は環境変数由来のデフォルト値にフォールバックする。
func (r *PostgresSettingsRepo) GetWhitelistMinimum(ctx context.Context) (int64, error) {
	var minimum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT whitelist_minimum FROM guild_settings WHERE id = 1`,
	).Scan(&minimum)
	if errors.Is(err, sql.ErrNoRows) {
		return r.defaultWhitelistMinimum, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get whitelist minimum: %w", err)
	}
	return minimum, nil
}

// SetWhitelistMinimum はホワイトリスト付与の最低残高を更新する。
// 再起動をまたいで保持するため、プロセス内変数ではなくDBに書き込む。
// 設定行が未投入でも書き込めるようUPSERTで適用する。
func (r *PostgresSettingsRepo) SetWhitelistMinimum(ctx context.Context, minimum int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guild_settings (id, whitelist_minimum)
		 VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET whitelist_minimum = EXCLUDED.whitelist_minimum, updated_at = now()`,
		minimum,
	)
	if err != nil {
		return fmt.Errorf("failed to set whitelist minimum: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SettingsRepository = (*PostgresSettingsRepo)(nil)
