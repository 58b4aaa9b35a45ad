// Package model はドメインモデルを定義する。
package model

import "time"

// QueueEntry は受付済み患者1名分の待ち行列レコードを表す。
// Ledgerのみが所有し、Trackerや他のコンポーネントはIDで参照する。
type QueueEntry struct {
	ID          string
	FullName    string
	Phone       string // 数字10桁の正規化済み電話番号
	Position    int
	AdmittedAt  time.Time
	Status      Status
	ReadyAt     *time.Time
	LeftAt      *time.Time
	SessionDate string // クリニック現地日付 (YYYY-MM-DD)
}

// IsActive はエントリがpatientsAheadの集計対象（waiting/almost）かどうかを返す。
func (e QueueEntry) IsActive() bool {
	return e.Status.IsActive()
}

// Status は待ち行列における患者の状態を表す。
type Status string

const (
	// StatusWaiting は受付直後の初期状態。
	StatusWaiting Status = "waiting"
	// StatusAlmost は順番が近い状態。
	StatusAlmost Status = "almost"
	// StatusReady は呼び出し済みの終端状態。
	StatusReady Status = "ready"
	// StatusLeft は患者が自ら待ち行列を離れた終端状態。
	StatusLeft Status = "left"
)

// statusRank は各状態の順序。有効な遷移は常にランクが増加する。
var statusRank = map[Status]int{
	StatusWaiting: 0,
	StatusAlmost:  1,
	StatusReady:   2,
	StatusLeft:    3,
}

// allowedTransitions は遷移先ごとの遷移元状態。
var allowedTransitions = map[Status][]Status{
	StatusAlmost: {StatusWaiting},
	StatusReady:  {StatusAlmost},
	StatusLeft:   {StatusWaiting, StatusAlmost, StatusReady},
}

// IsActive はwaitingまたはalmostの場合にtrueを返す。
func (s Status) IsActive() bool {
	return s == StatusWaiting || s == StatusAlmost
}

// IsTerminal はreadyまたはleftの場合にtrueを返す。
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusLeft
}

// IsValid は定義済みの状態かどうかを返す。
func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank は状態の順序値を返す。未定義の状態は-1。
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// CanTransition はfromからtoへの遷移が状態機械上許可されているかを返す。
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

// ParseStatus は文字列を状態に変換する。未定義の場合はfalseを返す。
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.IsValid()
}
