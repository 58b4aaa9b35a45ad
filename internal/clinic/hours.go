// Package clinic はクリニックの受付時間とセッション日付の計算を提供する。
package clinic

import (
	"fmt"
	"time"

	"github.com/hitoshi/fountain/internal/model"
)

const sessionDateLayout = "2006-01-02"

// Hours はクリニックのタイムゾーンと1日の受付時間帯。
// Open/Closeは現地時刻の0時からの経過時間で表す。
type Hours struct {
	Location *time.Location
	Open     time.Duration
	Close    time.Duration
}

// ParseClock は "HH:MM" 形式の時刻を0時からの経過時間に変換する。
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NewHours はタイムゾーン名と開始・終了時刻からHoursを生成する。
func NewHours(timezone, open, close string) (Hours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Hours{}, fmt.Errorf("invalid clinic timezone %q: %w", timezone, err)
	}
	o, err := ParseClock(open)
	if err != nil {
		return Hours{}, err
	}
	c, err := ParseClock(close)
	if err != nil {
		return Hours{}, err
	}
	if c <= o {
		return Hours{}, fmt.Errorf("clinic close time %s must be after open time %s", close, open)
	}
	return Hours{Location: loc, Open: o, Close: c}, nil
}

// location はnilの場合にUTCを返す。
func (h Hours) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

// IsOpen は指定時刻が受付時間帯 [Open, Close) に含まれるかを返す。
// 夏時間の切り替え日でも時計の表示時刻で判定する。
func (h Hours) IsOpen(now time.Time) bool {
	local := now.In(h.location())
	clock := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	return clock >= h.Open && clock < h.Close
}

// SessionDate は指定時刻の現地日付を "YYYY-MM-DD" で返す。
// 待ち行列の番号はこの日付ごとに1から振り直される。
func (h Hours) SessionDate(now time.Time) string {
	return now.In(h.location()).Format(sessionDateLayout)
}

// SessionStart は指定セッション日付の現地0時を返す。
func (h Hours) SessionStart(session string) (time.Time, error) {
	return time.ParseInLocation(sessionDateLayout, session, h.location())
}

// Status は受付時間と推定待ち時間からクリニック全体の状態を判定する。
// 受付時間外はclosed、待ち時間がbusyWaitMinutes以上ならbusy、それ以外はopen。
func (h Hours) Status(now time.Time, waitMinutes, busyWaitMinutes int) model.ClinicStatus {
	if !h.IsOpen(now) {
		return model.ClinicStatusClosed
	}
	if waitMinutes >= busyWaitMinutes {
		return model.ClinicStatusBusy
	}
	return model.ClinicStatusOpen
}
