// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/fountain/internal/model"
)

// EntryRepository は受付エントリの永続化インターフェース。
// 待ち行列の正本はメモリ上のLedgerであり、ここに保存されるのは監査用の記録と再起動時の復元元。
type EntryRepository interface {
	// Upsert はエントリを保存する。既存行より状態の順位が高い場合のみ更新する。
	// 通知が前後して届いても、古い状態で新しい状態を上書きしない。
	Upsert(ctx context.Context, entry model.QueueEntry) error

	// ListBySession は指定セッション日付のエントリを番号順に取得する。
	ListBySession(ctx context.Context, sessionDate string) ([]model.QueueEntry, error)

	// PurgeBefore は指定日付より前のセッションのエントリを削除し、削除件数を返す。
	PurgeBefore(ctx context.Context, sessionDate string) (int64, error)
}
