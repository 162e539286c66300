// Package ledger はmoola残高台帳のドメインロジックを提供する。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/moolawar/moolabot/internal/model"
	"github.com/moolawar/moolabot/internal/repository"
)

// Recorder は台帳操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordTransfer()
	RecordFine()
	RecordCredit()
	RecordInsufficientFunds()
}

// Service は台帳操作のサービス層。
// 引数検証とエラー変換のみを担い、残高の新値を自分では計算しない。
// 残高変更の原子性はリポジトリの条件付きUPDATE／トランザクションに委ねる。
type Service struct {
	users   repository.UserRepository
	metrics Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users repository.UserRepository, metrics Recorder) *Service {
	return &Service{
		users:   users,
		metrics: metrics,
	}
}

// GetBalance は指定ユーザーの残高を返す。
func (s *Service) GetBalance(ctx context.Context, discordID string) (decimal.Decimal, error) {
	user, err := s.users.FindByDiscordID(ctx, discordID)
	if err != nil {
		return decimal.Zero, model.NewStoreUnavailableError(err)
	}
	if user == nil {
		return decimal.Zero, model.NewUserNotFoundError(discordID)
	}
	return user.Points, nil
}

// GetUser は指定ユーザーを返す。見つからない場合はNotFoundエラー。
func (s *Service) GetUser(ctx context.Context, discordID string) (*model.User, error) {
	user, err := s.users.FindByDiscordID(ctx, discordID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(discordID)
	}
	return user, nil
}

// Transfer は送り手から受け手へamountを移動する。
// 事前条件: amount > 0、送り手と受け手が異なる。
// 減算と加算は単一トランザクションで適用され、合計残高は保存される。
func (s *Service) Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.NewInvalidArgumentError(fmt.Sprintf("transfer amount must be positive, got %s", amount))
	}
	if senderID == receiverID {
		return model.NewInvalidArgumentError("cannot transfer to yourself")
	}

	if err := s.users.Transfer(ctx, senderID, receiverID, amount); err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientFunds):
			s.recordInsufficientFunds()
			return model.NewInsufficientFundsError(senderID)
		case errors.Is(err, repository.ErrUserNotFound):
			return s.missingParty(ctx, senderID, receiverID)
		default:
			return model.NewStoreUnavailableError(err)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordTransfer()
	}
	slog.Info("transfer applied",
		slog.String("sender_id", senderID),
		slog.String("receiver_id", receiverID),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Fine は指定ユーザーの残高からamountを没収する。
// 没収分はどこにも加算されず、システム合計は減少する。
func (s *Service) Fine(ctx context.Context, discordID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.NewInvalidArgumentError(fmt.Sprintf("fine amount must be positive, got %s", amount))
	}

	if err := s.users.SubtractPoints(ctx, discordID, amount); err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientFunds):
			s.recordInsufficientFunds()
			return model.NewInsufficientFundsError(discordID)
		case errors.Is(err, repository.ErrUserNotFound):
			return model.NewUserNotFoundError(discordID)
		default:
			return model.NewStoreUnavailableError(err)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordFine()
	}
	slog.Info("fine applied",
		slog.String("discord_id", discordID),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Credit は指定ユーザーの残高にamountを加算する。
// 最小フローのコマンドからは呼ばれない拡張用操作。
func (s *Service) Credit(ctx context.Context, discordID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.NewInvalidArgumentError(fmt.Sprintf("credit amount must be positive, got %s", amount))
	}

	if err := s.users.AddPoints(ctx, discordID, amount); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.NewUserNotFoundError(discordID)
		}
		return model.NewStoreUnavailableError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordCredit()
	}
	slog.Info("credit applied",
		slog.String("discord_id", discordID),
		slog.String("amount", amount.String()),
	)
	return nil
}

// SumPointsForTeam はチームの合計残高を返す。
// 並行する書き込みとは結果整合で構わない表示用の集計。
func (s *Service) SumPointsForTeam(ctx context.Context, team model.Team) (decimal.Decimal, error) {
	if !model.ValidTeam(team) {
		return decimal.Zero, model.NewInvalidArgumentError(fmt.Sprintf("unknown team: %s", team))
	}
	total, err := s.users.SumPointsForTeam(ctx, team)
	if err != nil {
		return decimal.Zero, model.NewStoreUnavailableError(err)
	}
	return total, nil
}

// WarStatus は両チームの合計残高を返す。
func (s *Service) WarStatus(ctx context.Context) (bullas, beras decimal.Decimal, err error) {
	bullas, err = s.SumPointsForTeam(ctx, model.TeamBullas)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	beras, err = s.SumPointsForTeam(ctx, model.TeamBeras)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return bullas, beras, nil
}

// ChooseTeam はユーザーの所属チームを設定する。
// 再選択は許可され、以前の所属は上書きされる。
func (s *Service) ChooseTeam(ctx context.Context, discordID string, team model.Team) error {
	if !model.ValidTeam(team) {
		return model.NewInvalidArgumentError(fmt.Sprintf("unknown team: %s", team))
	}

	if err := s.users.SetTeam(ctx, discordID, team); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.NewUserNotFoundError(discordID)
		}
		return model.NewStoreUnavailableError(err)
	}

	slog.Info("team chosen",
		slog.String("discord_id", discordID),
		slog.String("team", string(team)),
	)
	return nil
}

// Leaderboard は全チーム横断のランキング上位limit件を返す。
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.RankedUser, error) {
	if limit <= 0 {
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("leaderboard limit must be positive, got %d", limit))
	}
	top, err := s.users.ListTop(ctx, limit)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	return top, nil
}

// missingParty は転送失敗時にどちらのユーザーが不在かを特定する。
// エラー報告専用の追加読み出しで、正しさには関与しない。
func (s *Service) missingParty(ctx context.Context, senderID, receiverID string) error {
	sender, err := s.users.FindByDiscordID(ctx, senderID)
	if err == nil && sender == nil {
		return model.NewUserNotFoundError(senderID)
	}
	return model.NewUserNotFoundError(receiverID)
}

func (s *Service) recordInsufficientFunds() {
	if s.metrics != nil {
		s.metrics.RecordInsufficientFunds()
	}
}
