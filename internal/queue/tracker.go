package queue

import (
	"log/slog"
	"time"

	"github.com/hitoshi/fountain/internal/model"
)

const (
	// DefaultAlmostThreshold はwaiting→almostとなる前方人数のデフォルト値。
	DefaultAlmostThreshold = 2
	// DefaultReadyThreshold はalmost→readyとなる前方人数のデフォルト値。
	DefaultReadyThreshold = 0
)

// TrackerConfig はTrackerの閾値設定。
type TrackerConfig struct {
	AlmostThreshold int
	ReadyThreshold  int
}

// View は患者向けステータス画面に返すエントリの状態。
type View struct {
	EntryID              string
	Position             int
	Status               model.Status
	PatientsAhead        int
	EstimatedWaitMinutes int
	AdmittedAt           time.Time
	ReadyAt              *time.Time
	LeftAt               *time.Time
}

// Tracker はエントリごとの状態機械（waiting → almost → ready、任意の状態 → left）を管理する。
// 状態はLedgerが保持し、TrackerはIDで参照して遷移を依頼する。
//
// almostへの遷移は他の患者の前方人数を変えないため、受付・離脱のたびにEvaluateで即時に適用する。
// readyへの遷移は後続の前方人数を減らすため、Advanceによる定期スイープでのみ適用する。
type Tracker struct {
	ledger    *Ledger
	estimator WaitEstimator
	config    TrackerConfig
	logger    *slog.Logger
}

// NewTracker はTrackerを生成する。
func NewTracker(ledger *Ledger, estimator WaitEstimator, config TrackerConfig, logger *slog.Logger) *Tracker {
	if config.AlmostThreshold < config.ReadyThreshold {
		config.AlmostThreshold = config.ReadyThreshold
	}
	return &Tracker{
		ledger:    ledger,
		estimator: estimator,
		config:    config,
		logger:    logger,
	}
}

// Status は指定エントリの現在の状態と前方人数、推定待ち時間を返す。
// 終端状態（ready/left）のエントリは前方人数・待ち時間とも0を返す。
func (t *Tracker) Status(id string) (View, error) {
	entry, err := t.ledger.Get(id)
	if err != nil {
		return View{}, err
	}
	return t.view(entry)
}

// Leave は患者本人の操作でエントリを待ち行列から外す。
// すでにleftの場合はエラーにせず現在の状態を返す。
// 離脱により後続患者の前方人数が減るため、almostへの遷移を再評価する。
func (t *Tracker) Leave(id string) (View, error) {
	entry, changed, err := t.ledger.Leave(id)
	if err != nil {
		return View{}, err
	}

	if changed {
		t.logger.Info("患者が待ち行列から離脱しました",
			slog.String("entry_id", entry.ID),
			slog.Int("position", entry.Position),
		)
		t.EvaluateAll()
	}

	return t.view(entry)
}

// Evaluate は指定エントリについてwaiting→almostの遷移のみを評価する。
// 他のエントリの前方人数を変えない遷移だけを行うため、連鎖しない。
func (t *Tracker) Evaluate(id string) (model.QueueEntry, error) {
	entry, err := t.ledger.Get(id)
	if err != nil {
		return model.QueueEntry{}, err
	}
	if entry.Status != model.StatusWaiting {
		return entry, nil
	}

	ahead, err := t.ledger.PatientsAhead(id)
	if err != nil {
		return model.QueueEntry{}, err
	}
	if ahead > t.config.AlmostThreshold {
		return entry, nil
	}

	updated, _, err := t.ledger.Transition(id, model.StatusAlmost)
	return updated, err
}

// EvaluateAll はwaitingの全エントリについてwaiting→almostの遷移を評価する。
// 遷移したエントリ数を返す。
func (t *Tracker) EvaluateAll() int {
	changed := 0
	for _, a := range t.ledger.AheadCounts() {
		if a.Status != model.StatusWaiting || a.PatientsAhead > t.config.AlmostThreshold {
			continue
		}
		if _, ok, err := t.ledger.Transition(a.EntryID, model.StatusAlmost); err == nil && ok {
			changed++
		}
	}
	return changed
}

// Advance は呼び出し1回分のスイープを行う。
// スイープ開始時点の前方人数スナップショットに対して全アクティブエントリを評価し、
// 閾値に応じてwaiting→almost、almost→readyを順に適用する。
// スイープ中に行ったready遷移は同じスイープ内の他エントリのready判定に影響しない。
// ready遷移があった場合は、前方人数が減った後続のwaiting→almostのみ最後に再評価する。
// スナップショット取得後にleftになったエントリはLedger側で遷移が拒否される。
func (t *Tracker) Advance() AdvanceResult {
	var result AdvanceResult
	for _, a := range t.ledger.AheadCounts() {
		status := a.Status

		if status == model.StatusWaiting && a.PatientsAhead <= t.config.AlmostThreshold {
			entry, ok, err := t.ledger.Transition(a.EntryID, model.StatusAlmost)
			if err != nil {
				continue
			}
			if ok {
				result.Almost++
			}
			status = entry.Status
		}

		if status == model.StatusAlmost && a.PatientsAhead <= t.config.ReadyThreshold {
			entry, ok, err := t.ledger.Transition(a.EntryID, model.StatusReady)
			if err != nil || !ok {
				continue
			}
			result.Ready++
			t.logger.Info("患者の呼び出し準備が整いました",
				slog.String("entry_id", entry.ID),
				slog.Int("position", entry.Position),
			)
		}
	}
	if result.Ready > 0 {
		result.Almost += t.EvaluateAll()
	}
	return result
}

// Snapshot はクリニック全体の待ち行列の現在の射影を返す。
func (t *Tracker) Snapshot() Snapshot {
	return TakeSnapshot(t.ledger, t.estimator)
}

// AdvanceResult はスイープ1回で適用された遷移数。
type AdvanceResult struct {
	Almost int
	Ready  int
}

// view はエントリをViewに変換する。
func (t *Tracker) view(entry model.QueueEntry) (View, error) {
	v := View{
		EntryID:    entry.ID,
		Position:   entry.Position,
		Status:     entry.Status,
		AdmittedAt: entry.AdmittedAt,
		ReadyAt:    entry.ReadyAt,
		LeftAt:     entry.LeftAt,
	}
	if entry.Status.IsTerminal() {
		return v, nil
	}

	ahead, err := t.ledger.PatientsAhead(entry.ID)
	if err != nil {
		return View{}, err
	}
	v.PatientsAhead = ahead
	v.EstimatedWaitMinutes = t.estimator.Estimate(ahead)
	return v, nil
}
