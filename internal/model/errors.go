package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 呼び出し元に返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, ledger, linking, provider, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	ErrCodeAlreadyLinked         = "ALREADY_LINKED"
	ErrCodeInvalidArgument       = "INVALID_ARGUMENT"
	ErrCodeStoreUnavailable      = "STORE_UNAVAILABLE"
	ErrCodeExternalProviderError = "EXTERNAL_PROVIDER_ERROR"
	ErrCodeTokenNotFound         = "TOKEN_NOT_FOUND"
	ErrCodeTokenUsed             = "TOKEN_USED"
)

// IsCode はerrが指定コードのAPIErrorかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewUserNotFoundError はユーザー未登録エラーを生成する。
func NewUserNotFoundError(discordID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("user not found: %s", discordID),
		Category: "ledger",
		Action:   "Link an account with /wankme first.",
	}
}

// NewInsufficientFundsError は残高不足エラーを生成する。
func NewInsufficientFundsError(discordID string) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientFunds,
		Message:  fmt.Sprintf("insufficient moola balance: %s", discordID),
		Category: "ledger",
		Action:   "Check the balance with /moola and retry with a smaller amount.",
	}
}

// NewAlreadyLinkedError はアカウント連携済みエラーを生成する。
func NewAlreadyLinkedError(address string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLinked,
		Message:  fmt.Sprintf("account already linked to %s", address),
		Category: "linking",
		Action:   "The existing link cannot be replaced.",
	}
}

// NewInvalidArgumentError は引数不正エラーを生成する。
func NewInvalidArgumentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("invalid argument: %s", reason),
		Category: "validation",
		Action:   "Fix the argument and retry.",
	}
}

// NewStoreUnavailableError はストア障害エラーを生成する。
// トランザクション保証により部分適用は発生していない（リトライ可能）。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("ledger store unavailable: %v", err),
		Category: "system",
		Action:   "Retry after a short wait.",
	}
}

// NewExternalProviderError はメンバーシッププロバイダ障害エラーを生成する。
func NewExternalProviderError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeExternalProviderError,
		Message:  fmt.Sprintf("membership provider call failed: %v", err),
		Category: "provider",
		Action:   "The next reconciliation pass will retry.",
	}
}

// NewTokenNotFoundError はトークン未検出エラーを生成する。
func NewTokenNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenNotFound,
		Message:  "link token not found",
		Category: "linking",
		Action:   "Request a new link with /wankme.",
	}
}

// NewTokenUsedError は使用済みトークンエラーを生成する。
func NewTokenUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenUsed,
		Message:  "link token has already been used",
		Category: "linking",
		Action:   "Request a new link with /wankme.",
	}
}
