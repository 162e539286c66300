package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/moolawar/moolabot/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByDiscordID は指定Discord IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByDiscordID(ctx context.Context, discordID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT discord_id, address, points, team, created_at, updated_at
		 FROM users WHERE discord_id = $1`,
		discordID,
	).Scan(&user.DiscordID, &user.Address, &user.Points, &user.Team, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by discord ID: %w", err)
	}

	return user, nil
}

// SetTeam はユーザーの所属チームを上書きする。
func (r *PostgresUserRepo) SetTeam(ctx context.Context, discordID string, team model.Team) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET team = $2, updated_at = now() WHERE discord_id = $1`,
		discordID, string(team),
	)
	if err != nil {
		return fmt.Errorf("failed to set team: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("set team for %s: %w", discordID, ErrUserNotFound)
	}
	return nil
}

// AddPoints は残高をamountだけ原子的に加算する。
func (r *PostgresUserRepo) AddPoints(ctx context.Context, discordID string, amount decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET points = points + $2, updated_at = now() WHERE discord_id = $1`,
		discordID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to add points: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("add points for %s: %w", discordID, ErrUserNotFound)
	}
	return nil
}

// SubtractPoints は残高がamount以上の場合に限り原子的に減算する。
// 減算条件を単一のUPDATE文に畳み込むことで、並行するfine/transferが
// 古い残高に対して残高チェックを通過することを防ぐ。
func (r *PostgresUserRepo) SubtractPoints(ctx context.Context, discordID string, amount decimal.Decimal) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET points = points - $2, updated_at = now()
		 WHERE discord_id = $1 AND points >= $2`,
		discordID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to subtract points: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	// 影響行数0は「ユーザー不在」か「残高不足」のどちらか。報告のために区別する。
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE discord_id = $1)`, discordID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("subtract points for %s: %w", discordID, ErrUserNotFound)
	}
	return fmt.Errorf("subtract points for %s: %w", discordID, ErrInsufficientFunds)
}

// Transfer は送り手の条件付き減算と受け手の加算を単一トランザクションで適用する。
// トランザクションが完了できない場合はどちらの行も変更されない。
func (r *PostgresUserRepo) Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 送り手の減算。コミット時点の残高に対する条件判定。
	result, err := tx.ExecContext(ctx,
		`UPDATE users SET points = points - $2, updated_at = now()
		 WHERE discord_id = $1 AND points >= $2`,
		senderID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to debit sender: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE discord_id = $1)`, senderID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check sender existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("transfer sender %s: %w", senderID, ErrUserNotFound)
		}
		return fmt.Errorf("transfer from %s: %w", senderID, ErrInsufficientFunds)
	}

	// 受け手の加算。不在ならロールバックし、減算も適用されない。
	result, err = tx.ExecContext(ctx,
		`UPDATE users SET points = points + $2, updated_at = now() WHERE discord_id = $1`,
		receiverID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to credit receiver: %w", err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transfer receiver %s: %w", receiverID, ErrUserNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}

	return nil
}

// SumPointsForTeam はチームの合計残高を返す。
func (r *PostgresUserRepo) SumPointsForTeam(ctx context.Context, team model.Team) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM users WHERE team = $1`,
		string(team),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum points for team: %w", err)
	}
	return total, nil
}

// ListTop は全チーム横断のランキング上位limit件を返す。
func (r *PostgresUserRepo) ListTop(ctx context.Context, limit int) ([]model.RankedUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT discord_id, address, points FROM users
		 ORDER BY points DESC, discord_id ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top users: %w", err)
	}
	defer rows.Close()

	return scanRankedRows(rows)
}

// ListTopByTeam は指定チームのランキング上位limit件を返す。
func (r *PostgresUserRepo) ListTopByTeam(ctx context.Context, team model.Team, limit int) ([]model.RankedUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT discord_id, address, points FROM users WHERE team = $1
		 ORDER BY points DESC, discord_id ASC LIMIT $2`,
		string(team), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top users by team: %w", err)
	}
	defer rows.Close()

	return scanRankedRows(rows)
}

// ListEligible は残高がminPoints以上の全ユーザーを返す。
func (r *PostgresUserRepo) ListEligible(ctx context.Context, minPoints decimal.Decimal) ([]model.RankedUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT discord_id, address, points FROM users WHERE points >= $1
		 ORDER BY points DESC, discord_id ASC`,
		minPoints,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible users: %w", err)
	}
	defer rows.Close()

	return scanRankedRows(rows)
}

// StreamRankedByTeam はランキング行を1件ずつコールバックに渡す。
func (r *PostgresUserRepo) StreamRankedByTeam(ctx context.Context, team model.Team, fn func(model.RankedUser) error) error {
	query := `SELECT discord_id, address, points FROM users WHERE team = $1
	          ORDER BY points DESC, discord_id ASC`
	arg := string(team)
	if team == model.TeamNone {
		// チーム未選択ユーザーは戦争に参加していないため対象外
		query = `SELECT discord_id, address, points FROM users WHERE team <> $1
		         ORDER BY points DESC, discord_id ASC`
	}

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("failed to stream ranked users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u model.RankedUser
		if err := rows.Scan(&u.DiscordID, &u.Address, &u.Points); err != nil {
			return fmt.Errorf("failed to scan ranked user: %w", err)
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed while iterating ranked users: %w", err)
	}
	return nil
}

// scanRankedRows はランキング行のスキャンを共通化する。
func scanRankedRows(rows *sql.Rows) ([]model.RankedUser, error) {
	var users []model.RankedUser
	for rows.Next() {
		var u model.RankedUser
		if err := rows.Scan(&u.DiscordID, &u.Address, &u.Points); err != nil {
			return nil, fmt.Errorf("failed to scan ranked user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating users: %w", err)
	}
	return users, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
