// Package advance は待ち行列の状態を定期的に進めるワーカーを提供する。
// 1ティックが受付側の「次の方どうぞ」1回に相当する。
package advance

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/fountain/internal/queue"
)

// Sweeper は待ち行列の状態遷移スイープを実行するインターフェース。
type Sweeper interface {
	Advance() queue.AdvanceResult
}

// Advancer は一定間隔でSweeperを呼び出すスケジューラ。
type Advancer struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewAdvancer はAdvancerの新しいインスタンスを生成する。
func NewAdvancer(sweeper Sweeper, logger *slog.Logger) *Advancer {
	return &Advancer{
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start はintervalごとにスイープを実行する。
// 起動直後には実行せず、最初のスイープは1間隔後に行う。
// コンテキストがキャンセルされるまで実行を継続する。
func (a *Advancer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("状態更新スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("状態更新スケジューラを停止しました")
			return
		case <-ticker.C:
			a.RunOnce()
		}
	}
}

// RunOnce はスイープを1回実行し、遷移があった場合にログを出力する。
func (a *Advancer) RunOnce() queue.AdvanceResult {
	start := time.Now()
	result := a.sweeper.Advance()

	if result.Almost == 0 && result.Ready == 0 {
		a.logger.Debug("状態を更新するエントリはありません")
		return result
	}

	a.logger.Info("待ち行列の状態を更新しました",
		slog.Int("almost_count", result.Almost),
		slog.Int("ready_count", result.Ready),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result
}
