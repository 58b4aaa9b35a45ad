// Package cleanup はセッション日付の切り替えと監査ジャーナルの自動削除ジョブを提供する。
// クリニック現地日付が変わると待ち行列を新しいセッションに切り替え、
// 保持期間（デフォルト30日）を超過したジャーナルを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fountain/internal/clinic"
)

// Purger は指定セッション日付より前のジャーナルを削除するインターフェース。
type Purger interface {
	PurgeBefore(ctx context.Context, sessionDate string) (int64, error)
}

// SessionRoller は待ち行列のセッションを切り替えるインターフェース。
type SessionRoller interface {
	Rollover(session string) bool
}

// CleanupJob はセッション切り替えと保持期間超過データの削除を行うジョブ。
// 何度実行しても結果が変わらない冪等な処理を保証する。
type CleanupJob struct {
	ledger        SessionRoller
	purger        Purger
	hours         clinic.Hours
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // ジャーナルの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// ledgerがnilの場合はセッション切り替えを行わず、削除のみを実行する。
func NewCleanupJob(ledger SessionRoller, purger Purger, hours clinic.Hours, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		ledger:        ledger,
		purger:        purger,
		hours:         hours,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 30,
	}
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// Run はセッションを現在の現地日付に切り替え、
// 現在のセッションからRetentionDays日より前のジャーナルを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	session := j.hours.SessionDate(j.now())

	if j.ledger != nil && j.ledger.Rollover(session) {
		j.logger.Info("待ち行列のセッションを切り替えました",
			slog.String("session_date", session),
		)
	}

	cutoff, err := j.Cutoff(session)
	if err != nil {
		return err
	}

	deletedCount, err := j.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("ジャーナルの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ジャーナル削除の実行に失敗: %w", err)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.String("cutoff", cutoff),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Cutoff はセッション日付からRetentionDays日前の日付を返す。
// この日付より前のセッションが削除対象になる。
func (j *CleanupJob) Cutoff(session string) (string, error) {
	day, err := j.hours.SessionStart(session)
	if err != nil {
		return "", fmt.Errorf("invalid session date %q: %w", session, err)
	}
	return j.hours.SessionDate(day.AddDate(0, 0, -j.RetentionDays)), nil
}
