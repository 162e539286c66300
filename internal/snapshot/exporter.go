// Package snapshot は残高ランキングのCSVエクスポートを提供する。
// 読み取り専用であり、台帳の状態を一切変更しない。
package snapshot

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"

	"github.com/moolawar/moolabot/internal/model"
	"github.com/moolawar/moolabot/internal/repository"
)

// File は添付用に生成されたエクスポートファイルを表す。
type File struct {
	Name    string
	Content []byte
}

// Exporter はスナップショットCSVを生成する。
//
// 行順序はpoints降順、同点はdiscord_id昇順。同じ入力データに対して
// 常に同じ出力を生成する（再現可能なタイブレーク）。
type Exporter struct {
	users       repository.UserRepository
	winnerLimit int
	loserLimit  int
}

// NewExporter はExporterを生成する。
// winnerLimit/loserLimitはスナップショット時の勝敗チーム別の上位件数。
func NewExporter(users repository.UserRepository, winnerLimit, loserLimit int) *Exporter {
	return &Exporter{
		users:       users,
		winnerLimit: winnerLimit,
		loserLimit:  loserLimit,
	}
}

// ExportTopN は指定チームの上位n件を「address,points」形式のCSVとして書き出す。
func (e *Exporter) ExportTopN(ctx context.Context, w io.Writer, team model.Team, n int) error {
	if !model.ValidTeam(team) {
		return model.NewInvalidArgumentError(fmt.Sprintf("unknown team: %s", team))
	}
	if n <= 0 {
		return model.NewInvalidArgumentError(fmt.Sprintf("limit must be positive, got %d", n))
	}

	users, err := e.users.ListTopByTeam(ctx, team, n)
	if err != nil {
		return model.NewStoreUnavailableError(err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"address", "points"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, u := range users {
		if err := cw.Write([]string{u.Address, u.Points.String()}); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportAll は両チームを合算した全ランキングをCSVとして書き出す。
// includeIdentityがtrueの場合はdiscord_id列を先頭に加える。
// 結果全体をメモリに保持せず、ストアから1行ずつストリーミングする。
func (e *Exporter) ExportAll(ctx context.Context, w io.Writer, includeIdentity bool) error {
	cw := csv.NewWriter(w)

	header := []string{"address", "points"}
	if includeIdentity {
		header = []string{"discord_id", "address", "points"}
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	err := e.users.StreamRankedByTeam(ctx, model.TeamNone, func(u model.RankedUser) error {
		row := []string{u.Address, u.Points.String()}
		if includeIdentity {
			row = []string{u.DiscordID, u.Address, u.Points.String()}
		}
		return cw.Write(row)
	})
	if err != nil {
		return model.NewStoreUnavailableError(err)
	}

	cw.Flush()
	return cw.Error()
}

// SnapshotFiles は現在の戦況スナップショットの添付ファイル一式を生成する。
// 勝利チームの上位winnerLimit件、敗北チームの上位loserLimit件、
// 全プレイヤー（discord_id付き）の3ファイルを返す。
// 合計残高が同点の場合はberasを勝者として扱う。
func (e *Exporter) SnapshotFiles(ctx context.Context) ([]File, error) {
	bullas, err := e.users.SumPointsForTeam(ctx, model.TeamBullas)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}
	beras, err := e.users.SumPointsForTeam(ctx, model.TeamBeras)
	if err != nil {
		return nil, model.NewStoreUnavailableError(err)
	}

	winner := model.TeamBeras
	if bullas.GreaterThan(beras) {
		winner = model.TeamBullas
	}
	loser := model.OpposingTeam(winner)

	var winnerBuf, loserBuf, allBuf bytes.Buffer
	if err := e.ExportTopN(ctx, &winnerBuf, winner, e.winnerLimit); err != nil {
		return nil, err
	}
	if err := e.ExportTopN(ctx, &loserBuf, loser, e.loserLimit); err != nil {
		return nil, err
	}
	if err := e.ExportAll(ctx, &allBuf, true); err != nil {
		return nil, err
	}

	slog.Info("snapshot generated",
		slog.String("winner", string(winner)),
		slog.String("bullas_total", bullas.String()),
		slog.String("beras_total", beras.String()),
	)

	return []File{
		{Name: fmt.Sprintf("top_%d_%s.csv", e.winnerLimit, winner), Content: winnerBuf.Bytes()},
		{Name: fmt.Sprintf("top_%d_%s.csv", e.loserLimit, loser), Content: loserBuf.Bytes()},
		{Name: "all_players.csv", Content: allBuf.Bytes()},
	}, nil
}
