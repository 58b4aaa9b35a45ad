package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/fountain/internal/model"
)

const (
	// DefaultTimeout は1通の送信に許容する時間のデフォルト値。
	DefaultTimeout = 10 * time.Second
	// reasonNotConfigured は認証情報が未設定の場合のスキップ理由。
	reasonNotConfigured = "not configured"
)

// Sender はSMSを送信するトランスポートのインターフェース。
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// OutcomeRecorder は通知結果をメトリクスに記録するインターフェース。
type OutcomeRecorder interface {
	RecordNotification(result string)
}

// Config はDispatcherの設定。
type Config struct {
	ClinicName  string
	Credentials Credentials
	Timeout     time.Duration
}

// Dispatcher は受付完了SMSを組み立てて送信する。
// Dispatchで開始した送信は受付処理から切り離され、結果はログとメトリクスにのみ残る。
type Dispatcher struct {
	sender   Sender
	config   Config
	recorder OutcomeRecorder
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。recorderはnilでもよい。
func NewDispatcher(sender Sender, config Config, recorder OutcomeRecorder, logger *slog.Logger) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Dispatcher{
		sender:   sender,
		config:   config,
		recorder: recorder,
		logger:   logger,
	}
}

// Message はSMS本文を組み立てる。
func Message(fullName, clinicName, trackingURL string) string {
	return fmt.Sprintf("Hi %s, welcome to %s. Track your queue status: %s",
		model.FirstName(fullName), clinicName, trackingURL)
}

// Send は1通のSMSを同期的に送信し、結果を返す。
// 認証情報のいずれかが未設定の場合は送信せずSkippedを返す。
func (d *Dispatcher) Send(ctx context.Context, phone, fullName, trackingURL string) Outcome {
	if missing := d.config.Credentials.Missing(); len(missing) > 0 {
		d.logger.Warn("SMS認証情報が未設定のため通知をスキップしました",
			slog.String("missing", strings.Join(missing, ",")),
			slog.String("phone", model.MaskPhone(phone)),
		)
		return Skipped(reasonNotConfigured)
	}

	job := Job{
		Phone:       phone,
		Body:        Message(fullName, d.config.ClinicName, trackingURL),
		TrackingURL: trackingURL,
	}

	if err := d.sender.Send(ctx, job); err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return Failed(pe.Body)
		}
		return Failed(err.Error())
	}
	return Sent()
}

// Dispatch は送信を切り離されたgoroutineで開始し、即座に返る。
// 送信は呼び出し元のリクエストコンテキストではなく、Timeoutで上限を設けた独自のコンテキストで行う。
func (d *Dispatcher) Dispatch(phone, fullName, trackingURL string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("SMS送信中にpanicが発生しました",
					slog.Any("panic", r),
					slog.String("phone", model.MaskPhone(phone)),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
		defer cancel()

		start := time.Now()
		outcome := d.Send(ctx, phone, fullName, trackingURL)
		d.report(outcome, phone, time.Since(start))
	}()
}

// Wait は実行中のDispatchがすべて完了するまで待機する。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// report は送信結果をログとメトリクスに記録する。
func (d *Dispatcher) report(outcome Outcome, phone string, elapsed time.Duration) {
	if d.recorder != nil {
		d.recorder.RecordNotification(string(outcome.Result))
	}

	attrs := []any{
		slog.String("result", string(outcome.Result)),
		slog.String("phone", model.MaskPhone(phone)),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	switch outcome.Result {
	case ResultSent:
		d.logger.Info("SMS通知を送信しました", attrs...)
	case ResultFailed:
		d.logger.Error("SMS通知の送信に失敗しました", append(attrs, slog.String("reason", outcome.Reason))...)
	default:
		d.logger.Info("SMS通知を送信しませんでした", append(attrs, slog.String("reason", outcome.Reason))...)
	}
}
