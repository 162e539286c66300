package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler は一定間隔でリコンサイルパスを実行する。
type Scheduler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(reconciler *Reconciler, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リコンサイルスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := s.reconciler.Pass(ctx); err != nil {
		s.logger.Error("リコンサイルパスの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リコンサイルスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.reconciler.Pass(ctx); err != nil {
				s.logger.Error("リコンサイルパスの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
