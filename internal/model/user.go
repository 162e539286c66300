// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Team はユーザーの所属チームを表す。
type Team string

const (
	// TeamNone はどちらのチームにも所属していない状態。
	TeamNone Team = ""
	// TeamBullas は Bullas チーム。
	TeamBullas Team = "bullas"
	// TeamBeras は Beras チーム。
	TeamBeras Team = "beras"
)

// ValidTeam は有効なチーム名かどうかを返す。
func ValidTeam(t Team) bool {
	return t == TeamBullas || t == TeamBeras
}

// OpposingTeam は相手チームを返す。無効なチームの場合はTeamNoneを返す。
func OpposingTeam(t Team) Team {
	switch t {
	case TeamBullas:
		return TeamBeras
	case TeamBeras:
		return TeamBullas
	default:
		return TeamNone
	}
}

// User はmoola残高を持つDiscordユーザーを表す。
// DiscordIDが一意の識別子。Addressはリンク時に一度だけ設定される。
// Pointsは常に0以上（ストア側の条件付きUPDATEで保証する）。
type User struct {
	DiscordID string
	Address   string
	Points    decimal.Decimal
	Team      Team
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RankedUser はスナップショット・リーダーボード用のランキング1行を表す。
type RankedUser struct {
	DiscordID string
	Address   string
	Points    decimal.Decimal
}
