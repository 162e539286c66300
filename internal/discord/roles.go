package discord

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/moolawar/moolabot/internal/model"
)

// RoleProvider はdiscordgoセッション経由でギルドのロールを照会・操作する。
type RoleProvider struct {
	session *discordgo.Session
	guildID string
}

// NewRoleProvider はRoleProviderを生成する。
func NewRoleProvider(session *discordgo.Session, guildID string) *RoleProvider {
	return &RoleProvider{
		session: session,
		guildID: guildID,
	}
}

// HasRole はユーザーが指定ロールを保持しているかを返す。
func (p *RoleProvider) HasRole(ctx context.Context, discordID, roleID string) (bool, error) {
	member, err := p.session.GuildMember(p.guildID, discordID, discordgo.WithContext(ctx))
	if err != nil {
		return false, model.NewExternalProviderError(fmt.Errorf("ギルドメンバーの取得に失敗 (%s): %w", discordID, err))
	}
	return slices.Contains(member.Roles, roleID), nil
}

// GrantRole はユーザーに指定ロールを付与する。既に保持している場合も成功する。
func (p *RoleProvider) GrantRole(ctx context.Context, discordID, roleID string) error {
	if err := p.session.GuildMemberRoleAdd(p.guildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
		return model.NewExternalProviderError(fmt.Errorf("ロール付与に失敗 (%s -> %s): %w", roleID, discordID, err))
	}
	return nil
}

// RevokeRole はユーザーから指定ロールを剥奪する。保持していない場合も成功する。
func (p *RoleProvider) RevokeRole(ctx context.Context, discordID, roleID string) error {
	if err := p.session.GuildMemberRoleRemove(p.guildID, discordID, roleID, discordgo.WithContext(ctx)); err != nil {
		return model.NewExternalProviderError(fmt.Errorf("ロール剥奪に失敗 (%s -> %s): %w", roleID, discordID, err))
	}
	return nil
}

// NewRESTRoleProvider はゲートウェイ接続なしでREST APIのみを使うRoleProviderを生成する。
// ワーカーモードのようにボット本体を起動しないプロセス向け。
func NewRESTRoleProvider(token, guildID string) (*RoleProvider, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("Discordセッションの初期化に失敗: %w", err)
	}
	return NewRoleProvider(session, guildID), nil
}
