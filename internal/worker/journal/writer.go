// Package journal は待ち行列の変更をPostgreSQLへ非同期に記録する監査ジャーナルを提供する。
// 変更通知はバッファ付きチャネルに積まれ、単一のgoroutineが受信順に書き込む。
package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/fountain/internal/model"
	"github.com/hitoshi/fountain/internal/queue"
)

const (
	// DefaultBufferSize は書き込み待ちイベントのバッファ長。
	DefaultBufferSize = 256
	// writeTimeout は1件あたりの書き込みタイムアウト。
	writeTimeout = 5 * time.Second
)

// ErrStopTimeout は停止待ちがタイムアウトした場合のエラー。
var ErrStopTimeout = errors.New("journal writer did not stop in time")

// Store はエントリの永続化先。
type Store interface {
	Upsert(ctx context.Context, entry model.QueueEntry) error
}

// Writer はqueue.Observerとして変更通知を受け取り、Storeへ順に書き込む。
// バッファが満杯の場合、イベントは破棄されERRORログが出力される。
type Writer struct {
	store  Store
	events chan model.QueueEntry
	logger *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ queue.Observer = (*Writer)(nil)

// NewWriter はWriterを生成する。bufferSizeが0以下の場合はDefaultBufferSizeを使用する。
func NewWriter(store Store, bufferSize int, logger *slog.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Writer{
		store:  store,
		events: make(chan model.QueueEntry, bufferSize),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// EntryAdmitted は受付されたエントリを書き込み待ちに積む。
func (w *Writer) EntryAdmitted(entry model.QueueEntry) {
	w.enqueue(entry)
}

// StatusChanged は状態が変化したエントリを書き込み待ちに積む。
func (w *Writer) StatusChanged(entry model.QueueEntry, _ model.Status) {
	w.enqueue(entry)
}

func (w *Writer) enqueue(entry model.QueueEntry) {
	select {
	case w.events <- entry:
	default:
		w.logger.Error("ジャーナルのバッファが満杯のためイベントを破棄しました",
			slog.String("entry_id", entry.ID),
			slog.String("status", string(entry.Status)),
			slog.Int("buffer_size", cap(w.events)),
		)
	}
}

// Run はイベントを受信順に書き込む。ctxのキャンセルまたはStopで、
// バッファに残ったイベントを書き込んでから終了する。
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)

	w.logger.Info("ジャーナル書き込みを開始しました",
		slog.Int("buffer_size", cap(w.events)),
	)

	for {
		select {
		case entry := <-w.events:
			w.write(entry)
		case <-ctx.Done():
			w.drain()
			return
		case <-w.stop:
			w.drain()
			return
		}
	}
}

// Stop はRunに停止を指示し、残りのイベントの書き込み完了を最大timeoutまで待つ。
func (w *Writer) Stop(timeout time.Duration) error {
	w.stopOnce.Do(func() { close(w.stop) })

	select {
	case <-w.done:
		w.logger.Info("ジャーナル書き込みを停止しました")
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// drain はバッファに残っているイベントを書き込む。
func (w *Writer) drain() {
	for {
		select {
		case entry := <-w.events:
			w.write(entry)
		default:
			return
		}
	}
}

// write は1件を書き込む。失敗はログに記録し、後続のイベントの処理を続ける。
func (w *Writer) write(entry model.QueueEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.store.Upsert(ctx, entry); err != nil {
		w.logger.Error("ジャーナルへの書き込みに失敗しました",
			slog.String("entry_id", entry.ID),
			slog.String("status", string(entry.Status)),
			slog.String("error", err.Error()),
		)
	}
}
