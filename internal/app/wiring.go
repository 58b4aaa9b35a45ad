package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/fountain/internal/checkin"
	"github.com/hitoshi/fountain/internal/config"
	"github.com/hitoshi/fountain/internal/metrics"
	"github.com/hitoshi/fountain/internal/notify"
	"github.com/hitoshi/fountain/internal/queue"
	"github.com/hitoshi/fountain/internal/repository"
	"github.com/hitoshi/fountain/internal/security"
	"github.com/hitoshi/fountain/internal/worker/journal"
)

// restoreTimeout は起動時に当日セッションを読み込む際のタイムアウト。
const restoreTimeout = 10 * time.Second

// queueComponents は待ち行列を中心としたドメインコンポーネント一式。
type queueComponents struct {
	ledger     *queue.Ledger
	estimator  queue.WaitEstimator
	tracker    *queue.Tracker
	journal    *journal.Writer
	collector  *metrics.Collector
	dispatcher *notify.Dispatcher
	service    *checkin.Service
}

// newQueueComponents は当日セッションを復元したLedgerを中心に、
// 状態評価・ジャーナル・メトリクス・SMS通知・受付サービスを組み立てる。
// オブザーバーは復元後に登録するため、復元したエントリはジャーナルに再送されない。
func newQueueComponents(
	ctx context.Context,
	cfg *config.Config,
	repo repository.EntryRepository,
	reg prometheus.Registerer,
	logger *slog.Logger,
) (*queueComponents, error) {
	// 1. 当日セッションの復元
	session := cfg.ClinicHours.SessionDate(time.Now())
	ledger := queue.NewLedger(session)

	restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	entries, err := repo.ListBySession(restoreCtx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session %s: %w", session, err)
	}
	ledger.Restore(session, entries)
	// 番号は受付行の書き込みに成功してから払い出す。再起動後も同じ番号を再発行しない
	ledger.SetAdmissionStore(repo)

	logger.Info("当日セッションを復元しました",
		slog.String("session_date", session),
		slog.Int("entries", ledger.Len()),
		slog.Int("active", ledger.ActiveCount()),
	)

	// 2. 待ち時間推定と状態評価
	estimator := queue.NewWaitEstimator(cfg.AverageServiceMinutes, cfg.MinimumWaitMinutes)
	tracker := queue.NewTracker(ledger, estimator, queue.TrackerConfig{
		AlmostThreshold: cfg.AlmostThreshold,
		ReadyThreshold:  cfg.ReadyThreshold,
	}, logger)

	// 3. オブザーバー（ジャーナル・メトリクス）
	// 受付行はAdmit内で書き込み済みのため、ジャーナルに届く受付イベントは同順位のupsertで無視される
	writer := journal.NewWriter(repo, journal.DefaultBufferSize, logger)
	collector := metrics.NewCollector(reg)
	metrics.TrackQueueLength(reg, ledger.ActiveCount)

	ledger.AddObserver(writer)
	ledger.AddObserver(collector)

	// 4. SMS通知
	sender := notify.NewTwilioSender(
		security.NewSSRFGuard().NewSafeClient(cfg.SMSTimeout),
		twilioCredentials(cfg),
		cfg.TwilioAPIBase,
	)
	dispatcher := notify.NewDispatcher(sender, notify.Config{
		ClinicName:  cfg.ClinicName,
		Credentials: twilioCredentials(cfg),
		Timeout:     cfg.SMSTimeout,
	}, collector, logger)

	// 5. 受付サービス
	service := checkin.NewService(ledger, tracker, estimator, dispatcher, collector, cfg.PatientWebURL, logger)

	return &queueComponents{
		ledger:     ledger,
		estimator:  estimator,
		tracker:    tracker,
		journal:    writer,
		collector:  collector,
		dispatcher: dispatcher,
		service:    service,
	}, nil
}

func twilioCredentials(cfg *config.Config) notify.Credentials {
	return notify.Credentials{
		AccountSID:          cfg.TwilioAccountSID,
		AuthToken:           cfg.TwilioAuthToken,
		MessagingServiceSID: cfg.TwilioMessagingServiceSID,
	}
}
