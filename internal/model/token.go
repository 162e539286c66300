package model

import "time"

// Token はDiscordアカウントとアドレスを紐付けるワンタイムトークンを表す。
// Valueは推測不可能な一意文字列（uuid v4）。Usedは一度だけtrueに遷移する。
// 未使用トークンはユーザーごとに最大1件（部分ユニークインデックスで保証する）。
type Token struct {
	Value     string
	DiscordID string
	Used      bool
	CreatedAt time.Time
}
