// Package notify は受付完了時のSMS通知を提供する。
// 通知は受付応答とは切り離されたgoroutineで送信され、結果はログとメトリクスにのみ反映される。
package notify

// Result は通知試行の結果区分。
type Result string

const (
	ResultSent    Result = "sent"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
)

// Outcome は1回の通知試行の結果。
// Failed/Skippedの場合はReasonに理由が入る。
type Outcome struct {
	Result Result
	Reason string
}

// Sent は送信成功のOutcomeを返す。
func Sent() Outcome {
	return Outcome{Result: ResultSent}
}

// Failed は送信失敗のOutcomeを返す。
func Failed(reason string) Outcome {
	return Outcome{Result: ResultFailed, Reason: reason}
}

// Skipped は送信を行わなかった場合のOutcomeを返す。
func Skipped(reason string) Outcome {
	return Outcome{Result: ResultSkipped, Reason: reason}
}

// Job は送信する1通のSMS。
type Job struct {
	Phone       string // 10桁の数字
	Body        string
	TrackingURL string
}
