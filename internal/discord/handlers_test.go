package discord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"github.com/moolawar/moolabot/internal/ledger"
	"github.com/moolawar/moolabot/internal/model"
	"github.com/moolawar/moolabot/internal/repository"
)

func testBot(adminRoles ...string) *Bot {
	return &Bot{
		adminRoles: adminRoles,
		logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func TestBot_IsAdmin(t *testing.T) {
	b := testBot("admin-1", "admin-2")

	cases := []struct {
		name   string
		member *discordgo.Member
		want   bool
	}{
		{"管理者ロール保持", &discordgo.Member{Roles: []string{"other", "admin-2"}}, true},
		{"一般ロールのみ", &discordgo.Member{Roles: []string{"other"}}, false},
		{"ロールなし", &discordgo.Member{}, false},
		{"メンバーなし", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := b.isAdmin(tc.member); got != tc.want {
				t.Errorf("isAdmin() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestInteractionUserID(t *testing.T) {
	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{
			User: &discordgo.User{ID: "member-id"},
		},
	}}
	if got := interactionUserID(guild); got != "member-id" {
		t.Errorf("guild interaction user = %q, want member-id", got)
	}

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		User: &discordgo.User{ID: "dm-id"},
	}}
	if got := interactionUserID(dm); got != "dm-id" {
		t.Errorf("dm interaction user = %q, want dm-id", got)
	}
}

func TestOptionMap(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{
			Name: cmdTransfer,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u-1"},
				{Name: "amount", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(42)},
			},
		},
	}}

	m := optionMap(i)
	if len(m) != 2 {
		t.Fatalf("len = %d, want 2", len(m))
	}
	if m["amount"].IntValue() != 42 {
		t.Errorf("amount = %d, want 42", m["amount"].IntValue())
	}
}

func TestUserMessage(t *testing.T) {
	apiErr := model.NewInsufficientFundsError("user-1")
	got := userMessage(apiErr)
	if got != apiErr.Message+" "+apiErr.Action {
		t.Errorf("userMessage(APIError) = %q", got)
	}

	if got := userMessage(errors.New("db exploded")); got != "Something went wrong. Please try again later." {
		t.Errorf("userMessage(plain) = %q", got)
	}
}

// 定義済みコマンドがすべてディスパッチ対象の名前と一致していることを確認する。
func TestApplicationCommands_NamesMatchDispatch(t *testing.T) {
	dispatched := map[string]bool{
		cmdTransfer:               true,
		cmdFine:                   true,
		cmdMoola:                  true,
		cmdWankme:                 true,
		cmdTeam:                   true,
		cmdWarStatus:              true,
		cmdLeaderboard:            true,
		cmdSnapshot:               true,
		cmdUpdateRoles:            true,
		cmdUpdateWhitelistMinimum: true,
	}

	cmds := applicationCommands()
	if len(cmds) != len(dispatched) {
		t.Fatalf("command count = %d, want %d", len(cmds), len(dispatched))
	}
	for _, cmd := range cmds {
		if !dispatched[cmd.Name] {
			t.Errorf("command %q has no dispatch case", cmd.Name)
		}
		if cmd.Description == "" {
			t.Errorf("command %q has no description", cmd.Name)
		}
	}
}

// --- 管理者ゲートの回帰テスト ---

// mockLedgerRepo は台帳呼び出しの到達を数えるUserRepositoryスタブ。
type mockLedgerRepo struct {
	transferCalls int
}

func (m *mockLedgerRepo) FindByDiscordID(ctx context.Context, discordID string) (*model.User, error) {
	return &model.User{DiscordID: discordID}, nil
}

func (m *mockLedgerRepo) SetTeam(ctx context.Context, discordID string, team model.Team) error {
	return nil
}

func (m *mockLedgerRepo) AddPoints(ctx context.Context, discordID string, amount decimal.Decimal) error {
	return nil
}

func (m *mockLedgerRepo) SubtractPoints(ctx context.Context, discordID string, amount decimal.Decimal) error {
	return nil
}

func (m *mockLedgerRepo) Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal) error {
	m.transferCalls++
	return nil
}

func (m *mockLedgerRepo) SumPointsForTeam(ctx context.Context, team model.Team) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *mockLedgerRepo) ListTop(ctx context.Context, limit int) ([]model.RankedUser, error) {
	return nil, nil
}

func (m *mockLedgerRepo) ListTopByTeam(ctx context.Context, team model.Team, limit int) ([]model.RankedUser, error) {
	return nil, nil
}

func (m *mockLedgerRepo) ListEligible(ctx context.Context, minPoints decimal.Decimal) ([]model.RankedUser, error) {
	return nil, nil
}

func (m *mockLedgerRepo) StreamRankedByTeam(ctx context.Context, team model.Team, fn func(model.RankedUser) error) error {
	return nil
}

var _ repository.UserRepository = (*mockLedgerRepo)(nil)

// fixedStatusTransport は全リクエストに同一ステータスを返すRoundTripper。
type fixedStatusTransport struct {
	status int
}

func (tr fixedStatusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: tr.status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// stubSession はネットワークに出ないSessionを返す。
// REST呼び出しは全て失敗し、応答送信はログに残るだけで副作用を持たない。
func stubSession(t *testing.T) *discordgo.Session {
	t.Helper()

	s, err := discordgo.New("Bot stub-token")
	if err != nil {
		t.Fatalf("セッションの生成に失敗: %v", err)
	}
	s.Client = &http.Client{Transport: fixedStatusTransport{status: http.StatusInternalServerError}}
	return s
}

func transferInteraction(senderID string, roles []string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type: discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{
			User:  &discordgo.User{ID: senderID},
			Roles: roles,
		},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: cmdTransfer,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "recv-1"},
				{Name: "amount", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(5)},
			},
		},
	}}
}

// 管理者ロールを持たない実行者の/transferは台帳に到達せずに拒否される。
func TestDispatchCommand_TransferRequiresAdmin(t *testing.T) {
	repo := &mockLedgerRepo{}
	b := testBot("admin-1")
	b.ledger = ledger.NewService(repo, nil)

	i := transferInteraction("sender-1", []string{"ordinary-role"})
	b.dispatchCommand(context.Background(), stubSession(t), i)

	if repo.transferCalls != 0 {
		t.Errorf("transfer calls = %d, want 0", repo.transferCalls)
	}
}

// 管理者ロールを持つ実行者の/transferは台帳まで到達する。
func TestDispatchCommand_TransferAdminReachesLedger(t *testing.T) {
	repo := &mockLedgerRepo{}
	b := testBot("admin-1")
	b.ledger = ledger.NewService(repo, nil)

	i := transferInteraction("sender-1", []string{"admin-1"})
	b.dispatchCommand(context.Background(), stubSession(t), i)

	if repo.transferCalls != 1 {
		t.Errorf("transfer calls = %d, want 1", repo.transferCalls)
	}
}
