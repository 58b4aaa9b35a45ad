// Package broadcast は待ち行列の変更を待合室ディスプレイ向けにRedis Pub/Subで配信する。
// 配信はベストエフォートで、失敗しても受付や状態遷移には影響しない。
// 変更通知はバッファ付きチャネルに積まれ、単一のgoroutineが受信順に配信する。
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/fountain/internal/model"
	"github.com/hitoshi/fountain/internal/queue"
)

const (
	// EventAdmitted は受付イベントの種別。
	EventAdmitted = "admitted"
	// EventStatusChanged は状態変更イベントの種別。
	EventStatusChanged = "status_changed"

	// DefaultBufferSize は配信待ちイベントのバッファ長。
	DefaultBufferSize = 256

	publishTimeout = 500 * time.Millisecond
)

// ErrStopTimeout は停止待ちがタイムアウトした場合のエラー。
var ErrStopTimeout = errors.New("broadcaster did not stop in time")

// Publisher はメッセージをチャネルに配信するインターフェース。
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Event は配信されるメッセージ。氏名と電話番号は含めない。
type Event struct {
	Type           string       `json:"type"`
	EntryID        string       `json:"entryId"`
	QueueNumber    int          `json:"queueNumber"`
	Status         model.Status `json:"status"`
	PreviousStatus model.Status `json:"previousStatus,omitempty"`
	SessionDate    string       `json:"sessionDate"`
	OccurredAt     time.Time    `json:"occurredAt"`
}

// Broadcaster はqueue.Observerとして変更通知を受け取り、Publisherへ配信する。
// Observerのコールバックはキューに積むだけで、Redisの応答を待たない。
// バッファが満杯の場合、イベントは破棄されWARNログが出力される。
type Broadcaster struct {
	publisher Publisher
	channel   string
	events    chan Event
	logger    *slog.Logger
	now       func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ queue.Observer = (*Broadcaster)(nil)

// NewBroadcaster はBroadcasterを生成する。配信はRunを起動するまで始まらない。
func NewBroadcaster(publisher Publisher, channel string, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		publisher: publisher,
		channel:   channel,
		events:    make(chan Event, DefaultBufferSize),
		logger:    logger,
		now:       time.Now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// EntryAdmitted は受付イベントを配信待ちに積む。
func (b *Broadcaster) EntryAdmitted(entry model.QueueEntry) {
	b.enqueue(b.event(EventAdmitted, entry, ""))
}

// StatusChanged は状態変更イベントを配信待ちに積む。
func (b *Broadcaster) StatusChanged(entry model.QueueEntry, from model.Status) {
	b.enqueue(b.event(EventStatusChanged, entry, from))
}

func (b *Broadcaster) enqueue(event Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn("配信のバッファが満杯のためイベントを破棄しました",
			slog.String("entry_id", event.EntryID),
			slog.String("type", event.Type),
			slog.Int("buffer_size", cap(b.events)),
		)
	}
}

// Run はイベントを受信順に配信する。ctxのキャンセルまたはStopで、
// バッファに残ったイベントを配信してから終了する。
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case event := <-b.events:
			b.publish(event)
		case <-ctx.Done():
			b.drain()
			return
		case <-b.stop:
			b.drain()
			return
		}
	}
}

// Stop はRunに停止を指示し、残りのイベントの配信完了を最大timeoutまで待つ。
func (b *Broadcaster) Stop(timeout time.Duration) error {
	b.stopOnce.Do(func() { close(b.stop) })

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (b *Broadcaster) drain() {
	for {
		select {
		case event := <-b.events:
			b.publish(event)
		default:
			return
		}
	}
}

func (b *Broadcaster) event(kind string, entry model.QueueEntry, from model.Status) Event {
	return Event{
		Type:           kind,
		EntryID:        entry.ID,
		QueueNumber:    entry.Position,
		Status:         entry.Status,
		PreviousStatus: from,
		SessionDate:    entry.SessionDate,
		OccurredAt:     b.now().UTC(),
	}
}

func (b *Broadcaster) publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("配信イベントのエンコードに失敗しました",
			slog.String("entry_id", event.EntryID),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.publisher.Publish(ctx, b.channel, payload); err != nil {
		b.logger.Warn("状態変更の配信に失敗しました",
			slog.String("entry_id", event.EntryID),
			slog.String("type", event.Type),
			slog.String("channel", b.channel),
			slog.String("error", err.Error()),
		)
	}
}

// RedisPublisher はgo-redisクライアントによるPublisher実装。
type RedisPublisher struct {
	client *redis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher はRedisクライアントを生成する。接続は最初のコマンド実行時に確立される。
func NewRedisPublisher(addr, password string, db int) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Publish はpayloadをchannelに配信する。
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close はRedisクライアントを閉じる。
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
