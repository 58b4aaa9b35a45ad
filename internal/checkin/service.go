// Package checkin はキオスクからの受付処理を提供する。
// 入力検証、待ち行列への登録、待ち時間の見積もり、SMS通知の起動までを統括する。
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/fountain/internal/model"
	"github.com/hitoshi/fountain/internal/queue"
)

const (
	// minNameLength は氏名の最小文字数。
	minNameLength = 2
	// phoneDigits は電話番号の桁数。
	phoneDigits = 10
)

// namePattern は氏名に許可する文字（英字、空白、ハイフン、アポストロフィ）。
var namePattern = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)

var tracer = otel.Tracer("github.com/hitoshi/fountain/internal/checkin")

// Queue は受付に必要な待ち行列の操作。
type Queue interface {
	Admit(fullName, phone string) (model.QueueEntry, error)
	PatientsAhead(id string) (int, error)
}

// Evaluator は受付直後のエントリの状態を評価する。
type Evaluator interface {
	Evaluate(id string) (model.QueueEntry, error)
}

// Notifier は受付完了SMSの送信を起動する。呼び出しは即座に返ること。
type Notifier interface {
	Dispatch(phone, fullName, trackingURL string)
}

// Recorder は受付処理のメトリクスを記録する。
type Recorder interface {
	RecordValidationFailure(field string)
	RecordAdmissionFailure()
	RecordCheckInLatency(duration time.Duration)
}

// Result は受付完了時に返す内容。
type Result struct {
	EntryID              string
	Position             int
	PatientsAhead        int
	EstimatedWaitMinutes int
	AdmittedAt           time.Time
	TrackingURL          string
}

// Service は受付のサービス層。
// フロー: 入力検証 → 登録 → 前方人数 → 待ち時間見積もり → 状態評価 → 通知起動
type Service struct {
	queue        Queue
	evaluator    Evaluator
	estimator    queue.WaitEstimator
	notifier     Notifier
	recorder     Recorder
	trackingBase string
	logger       *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	q Queue,
	evaluator Evaluator,
	estimator queue.WaitEstimator,
	notifier Notifier,
	recorder Recorder,
	trackingBase string,
	logger *slog.Logger,
) *Service {
	return &Service{
		queue:        q,
		evaluator:    evaluator,
		estimator:    estimator,
		notifier:     notifier,
		recorder:     recorder,
		trackingBase: trackingBase,
		logger:       logger,
	}
}

// Validate は生の氏名と電話番号を検証し、正規化した値を返す。
// 失敗した項目はすべて*model.ValidationErrorにまとめて返す。
func Validate(rawName, rawPhone string) (fullName, phone string, err error) {
	verr := &model.ValidationError{}

	fullName = strings.TrimSpace(rawName)
	switch {
	case utf8.RuneCountInString(fullName) < minNameLength:
		verr.Add("name", model.MsgNameRequired)
	case !namePattern.MatchString(fullName):
		verr.Add("name", model.MsgNameInvalid)
	}

	phone = model.DigitsOnly(rawPhone)
	switch {
	case phone == "":
		verr.Add("phone", model.MsgPhoneRequired)
	case len(phone) != phoneDigits:
		verr.Add("phone", model.MsgPhoneInvalid)
	}

	if verr.HasErrors() {
		return "", "", verr
	}
	return fullName, phone, nil
}

// CheckIn は患者を受付し、番号と推定待ち時間を返す。
// SMS通知は応答と切り離して起動し、その結果は戻り値に影響しない。
// 入力不備の場合は*model.ValidationError、登録失敗の場合は*model.APIErrorを返す。
func (s *Service) CheckIn(ctx context.Context, rawName, rawPhone string) (*Result, error) {
	_, span := tracer.Start(ctx, "checkin.CheckIn")
	defer span.End()

	start := time.Now()

	// 1. 入力検証
	fullName, phone, err := Validate(rawName, rawPhone)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) && s.recorder != nil {
			for _, f := range verr.Fields {
				s.recorder.RecordValidationFailure(f.Field)
			}
		}
		span.SetStatus(codes.Error, "invalid input")
		return nil, err
	}

	// 2. 待ち行列への登録
	entry, err := s.queue.Admit(fullName, phone)
	if err != nil {
		s.admissionFailed(span, err)
		return nil, model.NewAdmissionFailedError()
	}

	// 3. 前方人数と推定待ち時間
	ahead, err := s.queue.PatientsAhead(entry.ID)
	if err != nil {
		s.admissionFailed(span, err)
		return nil, model.NewAdmissionFailedError()
	}
	wait := s.estimator.Estimate(ahead)

	// 4. 受付直後の状態評価（waiting→almostのみ）
	if _, err := s.evaluator.Evaluate(entry.ID); err != nil {
		s.logger.Warn("受付直後の状態評価に失敗しました",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}

	// 5. SMS通知の起動
	trackingURL := TrackingURL(s.trackingBase, entry.Position)
	s.notifier.Dispatch(phone, fullName, trackingURL)

	span.SetAttributes(
		attribute.String("queue.entry_id", entry.ID),
		attribute.Int("queue.position", entry.Position),
		attribute.Int("queue.patients_ahead", ahead),
	)
	if s.recorder != nil {
		s.recorder.RecordCheckInLatency(time.Since(start))
	}

	s.logger.Info("患者を受付しました",
		slog.String("entry_id", entry.ID),
		slog.Int("position", entry.Position),
		slog.Int("patients_ahead", ahead),
		slog.Int("estimated_wait_minutes", wait),
		slog.String("phone", model.MaskPhone(phone)),
	)

	return &Result{
		EntryID:              entry.ID,
		Position:             entry.Position,
		PatientsAhead:        ahead,
		EstimatedWaitMinutes: wait,
		AdmittedAt:           entry.AdmittedAt,
		TrackingURL:          trackingURL,
	}, nil
}

// admissionFailed は登録失敗をログとメトリクス、スパンに記録する。
func (s *Service) admissionFailed(span trace.Span, err error) {
	s.logger.Error("待ち行列への登録に失敗しました",
		slog.String("error", err.Error()),
	)
	if s.recorder != nil {
		s.recorder.RecordAdmissionFailure()
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "admission failed")
}

// TrackingURL は患者向けステータスページのURL（{base}?q={position}）を組み立てる。
// baseが既にクエリを持つ場合はqを追加する。
func TrackingURL(base string, position int) string {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Sprintf("%s?q=%d", base, position)
	}
	q := u.Query()
	q.Set("q", strconv.Itoa(position))
	u.RawQuery = q.Encode()
	return u.String()
}
