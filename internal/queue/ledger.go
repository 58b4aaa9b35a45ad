// Package queue はウォークイン受付の待ち行列を提供する。
// 追記専用のLedger、待ち時間を見積もるWaitEstimator、
// 患者ごとの状態機械を扱うTrackerを含む。
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/fountain/internal/model"
)

// ErrEntryNotFound は指定IDのエントリがLedgerに存在しない場合のエラー。
var ErrEntryNotFound = errors.New("queue entry not found")

// admissionWriteTimeout は受付行の同期書き込みのタイムアウト。
const admissionWriteTimeout = 3 * time.Second

// AdmissionStore は受付したエントリを番号の払い出し前に永続化する。
// 再起動後の復元はこの行から最終番号を求めるため、書き込みに成功した番号だけが患者に渡る。
type AdmissionStore interface {
	Upsert(ctx context.Context, entry model.QueueEntry) error
}

// Observer はLedgerの変更通知を受け取るインターフェース。
// 通知はLedgerのロック解放後に、変更を行ったgoroutineから呼ばれる。
// 呼び出し順はgoroutine間で保証されないため、実装は順不同の通知に耐えること。
type Observer interface {
	// EntryAdmitted は新しいエントリが受付されたときに呼ばれる。
	EntryAdmitted(entry model.QueueEntry)
	// StatusChanged はエントリの状態が変化したときに呼ばれる。
	StatusChanged(entry model.QueueEntry, from model.Status)
}

// Ledger は1セッション（クリニックの1日）分の受付済み患者を到着順に保持する。
// 受付（Admit）はadmitMuで直列化され、番号は常に lastPosition + 1 で払い出される。
// 状態変更は書き込みロックで直列化され、読み取りはコピーを返す。
type Ledger struct {
	admitMu      sync.Mutex // Admit・Restore・Rolloverを直列化する。muより先に取る
	mu           sync.RWMutex
	entries      []*model.QueueEntry // Position昇順
	index        map[string]int
	lastPosition int
	session      string

	observers []Observer
	store     AdmissionStore

	now   func() time.Time
	newID func() (string, error)
}

// NewLedger は指定セッション日付の空のLedgerを生成する。
func NewLedger(session string) *Ledger {
	return &Ledger{
		index:   make(map[string]int),
		session: session,
		now:     time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewRandom()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// AddObserver は変更通知の受信者を登録する。起動時の組み立て中にのみ呼ぶこと。
func (l *Ledger) AddObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// SetAdmissionStore は受付行の同期書き込み先を設定する。起動時の組み立て中にのみ呼ぶこと。
func (l *Ledger) SetAdmissionStore(store AdmissionStore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = store
}

// Session は現在のセッション日付を返す。
func (l *Ledger) Session() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session
}

// Admit は検証済みの患者を待ち行列の末尾に追加し、次の番号を割り当てる。
// AdmissionStoreが設定されている場合は、エントリを公開する前に受付行を書き込む。
// 書き込みに失敗した番号は欠番とし、以後払い出さない。
// 失敗するのはID生成と受付行の書き込みの障害のみ。
func (l *Ledger) Admit(fullName, phone string) (model.QueueEntry, error) {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()

	id, err := l.newID()
	if err != nil {
		return model.QueueEntry{}, fmt.Errorf("failed to generate entry id: %w", err)
	}

	l.mu.RLock()
	_, exists := l.index[id]
	entry := model.QueueEntry{
		ID:          id,
		FullName:    fullName,
		Phone:       phone,
		Position:    l.lastPosition + 1,
		AdmittedAt:  l.now().UTC(),
		Status:      model.StatusWaiting,
		SessionDate: l.session,
	}
	store := l.store
	l.mu.RUnlock()

	if exists {
		return model.QueueEntry{}, fmt.Errorf("duplicate entry id: %s", id)
	}

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), admissionWriteTimeout)
		err := store.Upsert(ctx, entry)
		cancel()
		if err != nil {
			// タイムアウト時は書き込まれている可能性があるため、番号を進めて欠番にする
			l.mu.Lock()
			l.lastPosition = entry.Position
			l.mu.Unlock()
			return model.QueueEntry{}, fmt.Errorf("failed to record admission #%d: %w", entry.Position, err)
		}
	}

	l.mu.Lock()
	l.lastPosition = entry.Position
	l.index[id] = len(l.entries)
	stored := entry
	l.entries = append(l.entries, &stored)
	observers := l.observers
	l.mu.Unlock()

	for _, o := range observers {
		o.EntryAdmitted(entry)
	}
	return entry, nil
}

// Get は指定IDのエントリのコピーを返す。
func (l *Ledger) Get(id string) (model.QueueEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return model.QueueEntry{}, ErrEntryNotFound
	}
	return *l.entries[i], nil
}

// PatientsAhead は指定エントリより前に受付され、waitingまたはalmostのエントリ数を返す。
func (l *Ledger) PatientsAhead(id string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[id]
	if !ok {
		return 0, ErrEntryNotFound
	}
	return l.countActiveBefore(i), nil
}

// countActiveBefore はインデックスiより前のアクティブエントリ数を数える。
// 呼び出し側でロックを保持すること。
func (l *Ledger) countActiveBefore(i int) int {
	n := 0
	for _, e := range l.entries[:i] {
		if e.IsActive() {
			n++
		}
	}
	return n
}

// AheadCounts はアクティブな全エントリについて、同一時点のpatientsAheadを返す。
// 返されるスライスはPosition昇順。
func (l *Ledger) AheadCounts() []Ahead {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Ahead, 0, len(l.entries))
	active := 0
	for _, e := range l.entries {
		if !e.IsActive() {
			continue
		}
		result = append(result, Ahead{EntryID: e.ID, Status: e.Status, PatientsAhead: active})
		active++
	}
	return result
}

// Ahead はスナップショット時点でのエントリ状態と前方人数。
type Ahead struct {
	EntryID       string
	Status        model.Status
	PatientsAhead int
}

// ActiveCount はwaitingまたはalmostのエントリ数を返す。
func (l *Ledger) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.entries {
		if e.IsActive() {
			n++
		}
	}
	return n
}

// Len はセッション内の全エントリ数（離脱・呼び出し済みを含む）を返す。
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// NextPosition は次に払い出される番号を返す。
func (l *Ledger) NextPosition() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastPosition + 1
}

// Entries は全エントリのコピーをPosition昇順で返す。
func (l *Ledger) Entries() []model.QueueEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]model.QueueEntry, len(l.entries))
	for i, e := range l.entries {
		result[i] = *e
	}
	return result
}

// Transition はエントリの状態をtoへ遷移させる。
// 状態機械上許可されない遷移（終端状態からの自動遷移を含む）は変更せずfalseを返す。
// 同じ状態への遷移も変更なしとしてfalseを返す。
func (l *Ledger) Transition(id string, to model.Status) (model.QueueEntry, bool, error) {
	l.mu.Lock()

	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return model.QueueEntry{}, false, ErrEntryNotFound
	}

	entry := l.entries[i]
	from := entry.Status
	if !model.CanTransition(from, to) {
		current := *entry
		l.mu.Unlock()
		return current, false, nil
	}

	now := l.now().UTC()
	entry.Status = to
	switch to {
	case model.StatusReady:
		entry.ReadyAt = &now
	case model.StatusLeft:
		entry.LeftAt = &now
	}

	updated := *entry
	observers := l.observers
	l.mu.Unlock()

	for _, o := range observers {
		o.StatusChanged(updated, from)
	}
	return updated, true, nil
}

// Leave は患者本人の操作でエントリをleftにする。
// すでにleftの場合はエラーにせず現在の状態を返す（冪等）。
func (l *Ledger) Leave(id string) (model.QueueEntry, bool, error) {
	return l.Transition(id, model.StatusLeft)
}

// Restore は永続化済みのエントリでLedgerを再構築する。
// 起動時に当日セッションを復元するために使用する。
// 既存のエントリは破棄され、lastPositionは復元したエントリの最大番号になる。
func (l *Ledger) Restore(session string, entries []model.QueueEntry) {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.session = session
	l.entries = make([]*model.QueueEntry, 0, len(entries))
	l.index = make(map[string]int, len(entries))
	l.lastPosition = 0

	sorted := make([]model.QueueEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	for i := range sorted {
		e := sorted[i]
		if _, dup := l.index[e.ID]; dup {
			continue
		}
		l.index[e.ID] = len(l.entries)
		l.entries = append(l.entries, &e)
		if e.Position > l.lastPosition {
			l.lastPosition = e.Position
		}
	}
}

// Rollover はセッション日付が変わった場合に新しいセッションを開始する。
// 番号は1から振り直される。セッションが変わった場合にtrueを返す。
func (l *Ledger) Rollover(session string) bool {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.session == session {
		return false
	}
	l.session = session
	l.entries = nil
	l.index = make(map[string]int)
	l.lastPosition = 0
	return true
}
