// Package linking はDiscordアカウントとアドレスの連携フローを提供する。
// ワンタイムトークンの発行と、外部ページからのトークン消費を担う。
package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/moolawar/moolabot/internal/model"
	"github.com/moolawar/moolabot/internal/repository"
)

// Recorder は連携操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordTokenIssued()
	RecordTokenRedeemed()
}

// LinkInvite は発行済み連携トークンと誘導先URLを表す。
type LinkInvite struct {
	Token string
	URL   string
}

// Service はアカウント連携のサービス層。
type Service struct {
	users   repository.UserRepository
	tokens  repository.TokenRepository
	baseURL string
	metrics Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
// baseURLはトークンを消費する外部ページのベースURL。
func NewService(users repository.UserRepository, tokens repository.TokenRepository, baseURL string, metrics Recorder) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		baseURL: baseURL,
		metrics: metrics,
	}
}

// IssueLinkToken は連携トークンを発行する。
// 既に連携済みのアカウントにはALREADY_LINKEDを返し、新規発行しない。
// トークン値はuuid v4（128bitクラスのランダム性）。
// 同一ユーザーの未使用トークンが残っている場合は同じトークンを再提示する。
func (s *Service) IssueLinkToken(ctx context.Context, discordID string) (*LinkInvite, error) {
	user, err := s.users.FindByDiscordID(ctx, discordID)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	if user != nil {
		return nil, model.NewAlreadyLinkedError(user.Address)
	}

	token := &model.Token{
		Value:     uuid.New().String(),
		DiscordID: discordID,
		CreatedAt: time.Now(),
	}

	stored, err := s.tokens.IssueOrReuse(ctx, token)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	if stored.Value == token.Value && s.metrics != nil {
		s.metrics.RecordTokenIssued()
	}
	slog.Info("link token issued",
		slog.String("discord_id", discordID),
		slog.Bool("reused", stored.Value != token.Value),
	)

	return &LinkInvite{
		Token: stored.Value,
		URL:   fmt.Sprintf("%s/game?token=%s&discord=%s", s.baseURL, stored.Value, discordID),
	}, nil
}

// Redeem はトークンを消費してアドレスを紐付け、台帳アカウントを作成する。
// 使用済みマークとアカウント作成はストア側の単一トランザクションで行われ、
// 同じトークンを2回消費することはできない。
// 成功時は紐付いたDiscord IDを返す。
func (s *Service) Redeem(ctx context.Context, tokenValue, address string) (string, error) {
	if tokenValue == "" {
		return "", model.NewInvalidArgumentError("token is required")
	}
	if address == "" {
		return "", model.NewInvalidArgumentError("address is required")
	}

	discordID, err := s.tokens.Redeem(ctx, tokenValue, address)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTokenNotFound):
			return "", model.NewTokenNotFoundError()
		case errors.Is(err, repository.ErrTokenUsed):
			return "", model.NewTokenUsedError()
		case errors.Is(err, repository.ErrAlreadyLinked):
			return "", model.NewAlreadyLinkedError(address)
		default:
			return "", model.NewStoreUnavailableError(err)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordTokenRedeemed()
	}
	slog.Info("link token redeemed",
		slog.String("discord_id", discordID),
	)
	return discordID, nil
}
