package discord

import "github.com/bwmarrin/discordgo"

// コマンド名。InteractionCreateのディスパッチキーとして使う。
const (
	cmdTransfer               = "transfer"
	cmdFine                   = "fine"
	cmdMoola                  = "moola"
	cmdWankme                 = "wankme"
	cmdTeam                   = "team"
	cmdWarStatus              = "warstatus"
	cmdLeaderboard            = "leaderboard"
	cmdSnapshot               = "snapshot"
	cmdUpdateRoles            = "updateroles"
	cmdUpdateWhitelistMinimum = "updatewhitelistminimum"
)

// チーム選択ボタンのカスタムID。
const (
	bullButtonID = "bullButton"
	bearButtonID = "bearButton"
)

// applicationCommands はギルドに登録するスラッシュコマンドの定義一覧を返す。
func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdTransfer,
			Description: "Transfer moola to another user (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Recipient of the moola",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Amount of moola to transfer",
					Required:    true,
					MinValue:    float64Ptr(1),
				},
			},
		},
		{
			Name:        cmdFine,
			Description: "Fine a user (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to fine",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Amount of moola to remove",
					Required:    true,
					MinValue:    float64Ptr(1),
				},
			},
		},
		{
			Name:        cmdMoola,
			Description: "Check your moola balance",
		},
		{
			Name:        cmdWankme,
			Description: "Get your account linking invite",
		},
		{
			Name:        cmdTeam,
			Description: "Choose your team",
		},
		{
			Name:        cmdWarStatus,
			Description: "Show the current war status",
		},
		{
			Name:        cmdLeaderboard,
			Description: "Show the moola leaderboard",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "limit",
					Description: "Number of entries to show (default 10)",
					Required:    false,
					MinValue:    float64Ptr(1),
					MaxValue:    25,
				},
			},
		},
		{
			Name:        cmdSnapshot,
			Description: "Export the snapshot CSV files (admin only)",
		},
		{
			Name:        cmdUpdateRoles,
			Description: "Run the role reconciliation now (admin only)",
		},
		{
			Name:        cmdUpdateWhitelistMinimum,
			Description: "Update the whitelist minimum balance (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minimum",
					Description: "New minimum balance for the whitelist role",
					Required:    true,
					MinValue:    float64Ptr(1),
				},
			},
		},
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}
