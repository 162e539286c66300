package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"github.com/moolawar/moolabot/internal/model"
)

// interactionTimeout はインタラクション処理全体のタイムアウト。
// Discordの応答期限（3秒、deferred時は15分）より十分短くする。
const interactionTimeout = 2 * time.Minute

// onInteractionCreate はスラッシュコマンドとボタン操作をディスパッチする。
func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.dispatchCommand(ctx, s, i)
	case discordgo.InteractionMessageComponent:
		b.dispatchComponent(ctx, s, i)
	}
}

func (b *Bot) dispatchCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	name := i.ApplicationCommandData().Name

	b.logger.Info("コマンドを受信しました",
		slog.String("command", name),
		slog.String("discord_id", interactionUserID(i)),
	)

	switch name {
	case cmdTransfer:
		b.handleTransfer(ctx, s, i)
	case cmdFine:
		b.handleFine(ctx, s, i)
	case cmdMoola:
		b.handleMoola(ctx, s, i)
	case cmdWankme:
		b.handleWankme(ctx, s, i)
	case cmdTeam:
		b.handleTeam(ctx, s, i)
	case cmdWarStatus:
		b.handleWarStatus(ctx, s, i)
	case cmdLeaderboard:
		b.handleLeaderboard(ctx, s, i)
	case cmdSnapshot:
		b.handleSnapshot(ctx, s, i)
	case cmdUpdateRoles:
		b.handleUpdateRoles(ctx, s, i)
	case cmdUpdateWhitelistMinimum:
		b.handleUpdateWhitelistMinimum(ctx, s, i)
	default:
		b.respondEphemeral(s, i, "Unknown command.")
	}
}

func (b *Bot) dispatchComponent(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.MessageComponentData().CustomID {
	case bullButtonID:
		b.handleTeamButton(ctx, s, i, model.TeamBullas)
	case bearButtonID:
		b.handleTeamButton(ctx, s, i, model.TeamBeras)
	}
}

// handleTransfer は管理者が実行者から指定ユーザーへmoolaを移動する。
func (b *Bot) handleTransfer(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i.Member) {
		b.respondEphemeral(s, i, "You do not have permission to use this command.")
		return
	}

	opts := optionMap(i)
	target := opts["user"].UserValue(s)
	amount := decimal.NewFromInt(opts["amount"].IntValue())
	senderID := interactionUserID(i)

	if err := b.ledger.Transfer(ctx, senderID, target.ID, amount); err != nil {
		b.respondError(s, i, err)
		return
	}

	b.respond(s, i, fmt.Sprintf("Transferred %s moola to <@%s>.", amount.String(), target.ID))
}

// handleFine は管理者が指定ユーザーのmoolaを没収する。
func (b *Bot) handleFine(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i.Member) {
		b.respondEphemeral(s, i, "You do not have permission to use this command.")
		return
	}

	opts := optionMap(i)
	target := opts["user"].UserValue(s)
	amount := decimal.NewFromInt(opts["amount"].IntValue())

	if err := b.ledger.Fine(ctx, target.ID, amount); err != nil {
		b.respondError(s, i, err)
		return
	}

	b.respond(s, i, fmt.Sprintf("Fined <@%s> %s moola.", target.ID, amount.String()))
}

// handleMoola は実行者の残高を表示する。
func (b *Bot) handleMoola(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	discordID := interactionUserID(i)

	balance, err := b.ledger.GetBalance(ctx, discordID)
	if err != nil {
		if model.IsCode(err, model.ErrCodeNotFound) {
			b.respondEphemeral(s, i, "You are not registered yet. Use /wankme to link your account first.")
			return
		}
		b.respondError(s, i, err)
		return
	}

	b.respondEphemeral(s, i, fmt.Sprintf("You have %s moola.", balance.String()))
}

// handleWankme は連携トークンを発行し、連携URLをエフェメラルで返す。
func (b *Bot) handleWankme(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	discordID := interactionUserID(i)

	invite, err := b.linking.IssueLinkToken(ctx, discordID)
	if err != nil {
		if model.IsCode(err, model.ErrCodeAlreadyLinked) {
			b.respondEphemeral(s, i, "Your account is already linked.")
			return
		}
		b.respondError(s, i, err)
		return
	}

	b.respondEphemeral(s, i, fmt.Sprintf(
		"Click the link below to connect your account. The link is single use.\n%s", invite.URL))
}

// handleTeam はチーム選択ボタンを表示する。
func (b *Bot) handleTeam(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Choose your team for the war!",
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							Label:    "Bullas",
							Style:    discordgo.SuccessButton,
							CustomID: bullButtonID,
						},
						discordgo.Button{
							Label:    "Beras",
							Style:    discordgo.DangerButton,
							CustomID: bearButtonID,
						},
					},
				},
			},
		},
	})
	if err != nil {
		b.logger.Error("チーム選択ボタンの表示に失敗しました", slog.String("error", err.Error()))
	}
}

// handleTeamButton はチーム選択を確定し、チームロールを入れ替える。
func (b *Bot) handleTeamButton(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, team model.Team) {
	discordID := interactionUserID(i)

	if err := b.ledger.ChooseTeam(ctx, discordID, team); err != nil {
		b.respondError(s, i, err)
		return
	}

	// チームロールの入れ替え。ロール未設定の環境ではスキップする。
	chosenRole, opposingRole := b.bullRoleID, b.bearRoleID
	if team == model.TeamBeras {
		chosenRole, opposingRole = b.bearRoleID, b.bullRoleID
	}
	if opposingRole != "" {
		if err := b.roles.RevokeRole(ctx, discordID, opposingRole); err != nil {
			b.logger.Error("チームロールの剥奪に失敗しました",
				slog.String("discord_id", discordID),
				slog.String("error", err.Error()),
			)
		}
	}
	if chosenRole != "" {
		if err := b.roles.GrantRole(ctx, discordID, chosenRole); err != nil {
			b.logger.Error("チームロールの付与に失敗しました",
				slog.String("discord_id", discordID),
				slog.String("error", err.Error()),
			)
		}
	}

	b.respondEphemeral(s, i, fmt.Sprintf("You joined team %s!", team))
}

// handleWarStatus は両チームの合計残高を表示する。
func (b *Bot) handleWarStatus(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	bullas, beras, err := b.ledger.WarStatus(ctx)
	if err != nil {
		b.respondError(s, i, err)
		return
	}

	leader := "It's a tie!"
	if bullas.GreaterThan(beras) {
		leader = "Bullas are winning!"
	} else if beras.GreaterThan(bullas) {
		leader = "Beras are winning!"
	}

	embed := &discordgo.MessageEmbed{
		Title: "War Status",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Bullas", Value: bullas.String(), Inline: true},
			{Name: "Beras", Value: beras.String(), Inline: true},
		},
		Description: leader,
	}
	b.respondEmbed(s, i, embed)
}

// handleLeaderboard はランキング上位を表示する。既定は10件。
func (b *Bot) handleLeaderboard(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	limit := 10
	if opt, ok := optionMap(i)["limit"]; ok {
		limit = int(opt.IntValue())
	}

	ranked, err := b.ledger.Leaderboard(ctx, limit)
	if err != nil {
		b.respondError(s, i, err)
		return
	}
	if len(ranked) == 0 {
		b.respondEphemeral(s, i, "The leaderboard is empty.")
		return
	}

	var sb strings.Builder
	for idx, u := range ranked {
		fmt.Fprintf(&sb, "%d. <@%s> — %s moola\n", idx+1, u.DiscordID, u.Points.String())
	}

	b.respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Moola Leaderboard",
		Description: sb.String(),
	})
}

// handleSnapshot は優勝・敗北・全プレイヤーのCSVを生成して添付する。
func (b *Bot) handleSnapshot(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i.Member) {
		b.respondEphemeral(s, i, "You do not have permission to use this command.")
		return
	}

	// CSV生成は時間がかかるため遅延応答にする
	if err := b.deferResponse(s, i); err != nil {
		b.logger.Error("遅延応答に失敗しました", slog.String("error", err.Error()))
		return
	}

	files, err := b.snapshot.SnapshotFiles(ctx)
	if err != nil {
		b.followupError(s, i, err)
		return
	}

	attachments := make([]*discordgo.File, len(files))
	for idx, f := range files {
		attachments[idx] = &discordgo.File{
			Name:        f.Name,
			ContentType: "text/csv",
			Reader:      bytes.NewReader(f.Content),
		}
	}

	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: "Snapshot complete.",
		Files:   attachments,
	})
	if err != nil {
		b.logger.Error("スナップショットの送信に失敗しました", slog.String("error", err.Error()))
	}
}

// handleUpdateRoles はロールのリコンサイルを即時実行する。
func (b *Bot) handleUpdateRoles(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i.Member) {
		b.respondEphemeral(s, i, "You do not have permission to use this command.")
		return
	}
	if b.reconciler == nil {
		b.respondEphemeral(s, i, "Role reconciliation is not configured.")
		return
	}

	if err := b.deferResponse(s, i); err != nil {
		b.logger.Error("遅延応答に失敗しました", slog.String("error", err.Error()))
		return
	}

	if err := b.reconciler.Pass(ctx); err != nil {
		b.followupError(s, i, err)
		return
	}

	_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: "Role update complete.",
	})
	if err != nil {
		b.logger.Error("フォローアップの送信に失敗しました", slog.String("error", err.Error()))
	}
}

// handleUpdateWhitelistMinimum はホワイトリストのしきい値を更新する。
func (b *Bot) handleUpdateWhitelistMinimum(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i.Member) {
		b.respondEphemeral(s, i, "You do not have permission to use this command.")
		return
	}

	minimum := optionMap(i)["minimum"].IntValue()

	if err := b.settings.SetWhitelistMinimum(ctx, minimum); err != nil {
		b.respondError(s, i, err)
		return
	}

	b.respond(s, i, fmt.Sprintf("Whitelist minimum updated to %d moola. Roles will be reconciled on the next pass.", minimum))
}

// --- ヘルパー ---

// isAdmin はメンバーが管理者ロールのいずれかを保持しているかを返す。
func (b *Bot) isAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, roleID := range member.Roles {
		if slices.Contains(b.adminRoles, roleID) {
			return true
		}
	}
	return false
}

// interactionUserID はインタラクション実行者のDiscord IDを返す。
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// optionMap はコマンドオプションを名前引きできるマップに変換する。
func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	b.respondWithFlags(s, i, content, 0)
}

func (b *Bot) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	b.respondWithFlags(s, i, content, discordgo.MessageFlagsEphemeral)
}

func (b *Bot) respondWithFlags(s *discordgo.Session, i *discordgo.InteractionCreate, content string, flags discordgo.MessageFlags) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Error("インタラクション応答に失敗しました", slog.String("error", err.Error()))
	}
}

func (b *Bot) respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
	if err != nil {
		b.logger.Error("インタラクション応答に失敗しました", slog.String("error", err.Error()))
	}
}

func (b *Bot) deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

// respondError はサービス層のエラーをユーザー向けメッセージに変換して返す。
func (b *Bot) respondError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	b.respondEphemeral(s, i, userMessage(err))
}

func (b *Bot) followupError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	_, ferr := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: userMessage(err),
	})
	if ferr != nil {
		b.logger.Error("フォローアップの送信に失敗しました", slog.String("error", ferr.Error()))
	}
}

// userMessage はAPIErrorのメッセージと対処方法をそのまま使い、
// それ以外のエラーは一般的なメッセージに丸める。
func userMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Action != "" {
			return apiErr.Message + " " + apiErr.Action
		}
		return apiErr.Message
	}
	slog.Error("unexpected command error", slog.String("error", err.Error()))
	return "Something went wrong. Please try again later."
}
