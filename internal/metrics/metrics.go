// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/fountain/internal/model"
)

// Collector はPrometheusメトリクスを収集する実装。
// 待ち行列のObserverとしてLedgerに登録し、受付と状態遷移を数える。
type Collector struct {
	checkIns          prometheus.Counter
	validationFail    *prometheus.CounterVec
	admissionFail     prometheus.Counter
	checkInLatency    prometheus.Histogram
	notifications     *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fountain_checkins_total",
			Help: "受付が完了した患者の合計数",
		}),
		validationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fountain_checkin_validation_failures_total",
			Help: "入力検証で拒否された項目別の件数",
		}, []string{"field"}),
		admissionFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fountain_checkin_admission_failures_total",
			Help: "待ち行列への登録に失敗した件数",
		}),
		checkInLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fountain_checkin_latency_seconds",
			Help:    "受付処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fountain_notifications_total",
			Help: "SMS通知の結果別件数",
		}, []string{"result"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fountain_status_transitions_total",
			Help: "遷移先ステータス別の状態遷移数",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.checkIns,
		c.validationFail,
		c.admissionFail,
		c.checkInLatency,
		c.notifications,
		c.statusTransitions,
	)

	return c
}

// TrackQueueLength は現在の待ち人数を返す関数をゲージとして登録する。
// 値はスクレイプのたびに評価される。
func TrackQueueLength(reg prometheus.Registerer, length func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "fountain_queue_length",
		Help: "waitingまたはalmostの患者数",
	}, func() float64 {
		return float64(length())
	}))
}

// RecordValidationFailure は入力検証エラーを項目別に記録する。
func (c *Collector) RecordValidationFailure(field string) {
	c.validationFail.WithLabelValues(field).Inc()
}

// RecordAdmissionFailure は登録失敗を記録する。
func (c *Collector) RecordAdmissionFailure() {
	c.admissionFail.Inc()
}

// RecordCheckInLatency は受付処理のレイテンシを記録する。
func (c *Collector) RecordCheckInLatency(duration time.Duration) {
	c.checkInLatency.Observe(duration.Seconds())
}

// RecordNotification はSMS通知の結果を記録する。
func (c *Collector) RecordNotification(result string) {
	c.notifications.WithLabelValues(result).Inc()
}

// EntryAdmitted は受付完了を記録する。
func (c *Collector) EntryAdmitted(entry model.QueueEntry) {
	c.checkIns.Inc()
}

// StatusChanged は状態遷移を遷移先ステータス別に記録する。
func (c *Collector) StatusChanged(entry model.QueueEntry, from model.Status) {
	c.statusTransitions.WithLabelValues(string(entry.Status)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
