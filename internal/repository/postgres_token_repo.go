package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/moolawar/moolabot/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用した連携トークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// IssueOrReuse はトークンを登録する。同一ユーザーの未使用トークンが既に
// 存在する場合は新規発行せず既存トークンを返す。
// 部分ユニークインデックス（discord_id WHERE NOT used）への
// ON CONFLICT DO NOTHINGで競合発行を防ぐ。
func (r *PostgresTokenRepo) IssueOrReuse(ctx context.Context, token *model.Token) (*model.Token, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (token, discord_id, used, created_at)
		 VALUES ($1, $2, FALSE, $3)
		 ON CONFLICT (discord_id) WHERE NOT used DO NOTHING`,
		token.Value, token.DiscordID, token.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return token, nil
	}

	// 未使用トークンが既にある。そのトークンを返す。
	existing := &model.Token{}
	err = r.db.QueryRowContext(ctx,
		`SELECT token, discord_id, used, created_at FROM tokens
		 WHERE discord_id = $1 AND NOT used`,
		token.DiscordID,
	).Scan(&existing.Value, &existing.DiscordID, &existing.Used, &existing.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing unused token: %w", err)
	}
	return existing, nil
}

// Redeem はトークンを使用済みにし、同一トランザクションでユーザーを作成する。
// トークン行をFOR UPDATEでロックしてから検証するため、同じトークンの
// 並行リプレイはどちらか一方しか成功しない。
func (r *PostgresTokenRepo) Redeem(ctx context.Context, tokenValue, address string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var discordID string
	var used bool
	err = tx.QueryRowContext(ctx,
		`SELECT discord_id, used FROM tokens WHERE token = $1 FOR UPDATE`,
		tokenValue,
	).Scan(&discordID, &used)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("redeem token: %w", ErrTokenNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock token: %w", err)
	}
	if used {
		return "", fmt.Errorf("redeem token for %s: %w", discordID, ErrTokenUsed)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tokens SET used = TRUE WHERE token = $1`,
		tokenValue,
	); err != nil {
		return "", fmt.Errorf("failed to mark token used: %w", err)
	}

	// アカウント作成。既に存在する場合は全体をロールバックする。
	result, err := tx.ExecContext(ctx,
		`INSERT INTO users (discord_id, address, points, team)
		 VALUES ($1, $2, 0, '')
		 ON CONFLICT (discord_id) DO NOTHING`,
		discordID, address,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return "", fmt.Errorf("redeem token for %s: %w", discordID, ErrAlreadyLinked)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit redemption: %w", err)
	}

	return discordID, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
