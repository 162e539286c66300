// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/moolawar/moolabot/internal/model"
)

// 永続化層の結果を表すセンチネルエラー。
// サービス層がerrors.Isで判定し、APIエラーへ変換する。
var (
	// ErrUserNotFound は対象ユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientFunds は残高が操作額に満たないことを示す。
	// 条件付きUPDATEの影響行数が0だった場合に返る。
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTokenNotFound は連携トークンが存在しないことを示す。
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenUsed は連携トークンが使用済みであることを示す。
	ErrTokenUsed = errors.New("token already used")
	// ErrAlreadyLinked は対象Discord IDのアカウントが既に存在することを示す。
	ErrAlreadyLinked = errors.New("account already linked")
)

// UserRepository はユーザー残高データの永続化インターフェース。
//
// 全ての残高変更は「現在の格納値に対する条件付きUPDATE」として実装すること。
// 読み出し→プロセス内計算→書き戻しの形は、同一ユーザーへの並行操作で
// 更新消失を起こすため禁止する。
type UserRepository interface {
	// FindByDiscordID は指定Discord IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByDiscordID(ctx context.Context, discordID string) (*model.User, error)

	// SetTeam はユーザーの所属チームを上書きする。
	// ユーザーが存在しない場合はErrUserNotFoundを返す。
	SetTeam(ctx context.Context, discordID string, team model.Team) error

	// AddPoints は残高をamountだけ原子的に加算する（credit用）。
	// ユーザーが存在しない場合はErrUserNotFoundを返す。
	AddPoints(ctx context.Context, discordID string, amount decimal.Decimal) error

	// SubtractPoints は残高がamount以上の場合に限り原子的に減算する（fine用）。
	// 減算された分はどこにも加算されない（システムから消える）。
	// 残高不足の場合はErrInsufficientFunds、ユーザー不在の場合はErrUserNotFoundを返す。
	SubtractPoints(ctx context.Context, discordID string, amount decimal.Decimal) error

	// Transfer は送り手の条件付き減算と受け手の加算を単一トランザクションで適用する。
	// どちらか一方だけが適用された状態は外部から観測されない。
	// 送り手の残高不足はErrInsufficientFunds、どちらかの不在はErrUserNotFoundを返す。
	Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal) error

	// SumPointsForTeam はチームの合計残高を返す。表示用途の読み取り専用集計。
	SumPointsForTeam(ctx context.Context, team model.Team) (decimal.Decimal, error)

	// ListTop は全チーム横断のランキング上位limit件を返す。
	// 順序: points降順、同点はdiscord_id昇順（再現可能なタイブレーク）。
	ListTop(ctx context.Context, limit int) ([]model.RankedUser, error)

	// ListTopByTeam は指定チームのランキング上位limit件を返す。順序はListTopと同じ。
	ListTopByTeam(ctx context.Context, team model.Team, limit int) ([]model.RankedUser, error)

	// ListEligible は残高がminPoints以上の全ユーザーを返す。
	ListEligible(ctx context.Context, minPoints decimal.Decimal) ([]model.RankedUser, error)

	// StreamRankedByTeam はランキング行を1件ずつコールバックに渡す。
	// 全件エクスポートで無制限の結果をメモリに持たないためのストリーミング読み出し。
	// teamがTeamNoneの場合はチーム所属のある全ユーザーを対象にする。
	// fnがエラーを返した時点で走査を打ち切り、そのエラーを返す。
	StreamRankedByTeam(ctx context.Context, team model.Team, fn func(model.RankedUser) error) error
}

// TokenRepository はアカウント連携トークンの永続化インターフェース。
type TokenRepository interface {
	// IssueOrReuse はトークンを登録する。同一ユーザーの未使用トークンが既に
	// 存在する場合は新規発行せず既存トークンを返す（未使用は1ユーザー1件）。
	IssueOrReuse(ctx context.Context, token *model.Token) (*model.Token, error)

	// Redeem はトークンを使用済みにし、同一トランザクションでユーザーを作成する。
	// リプレイ防止のため行ロックの上で検証する。
	// 成功時は紐付いたDiscord IDを返す。
	// トークン不在はErrTokenNotFound、使用済みはErrTokenUsed、
	// 既にアカウントが存在する場合はErrAlreadyLinkedを返す（いずれも全ロールバック）。
	Redeem(ctx context.Context, tokenValue, address string) (string, error)
}

// SettingsRepository はギルド設定の永続化インターフェース。
// ホワイトリスト最低残高は再起動をまたいで保持する必要がある。
type SettingsRepository interface {
	// GetWhitelistMinimum はホワイトリスト付与の最低残高を返す。
	GetWhitelistMinimum(ctx context.Context) (int64, error)
	// SetWhitelistMinimum はホワイトリスト付与の最低残高を更新する。
	SetWhitelistMinimum(ctx context.Context, minimum int64) error
}
