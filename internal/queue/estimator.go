package queue

import "math"

const (
	// DefaultAverageServiceMinutes は患者1名あたりの平均診察時間（分）のデフォルト値。
	DefaultAverageServiceMinutes = 10.0
	// DefaultMinimumWaitMinutes は推定待ち時間の下限（分）のデフォルト値。
	DefaultMinimumWaitMinutes = 5
)

// WaitEstimator は前方人数から推定待ち時間（分）を算出する。
// 副作用のない純粋な計算で、Ledgerに依存しない。
type WaitEstimator struct {
	AverageServiceMinutes float64
	MinimumWaitMinutes    int
}

// NewWaitEstimator はWaitEstimatorを生成する。
// 0以下の値にはデフォルト値を使用する（下限は0を許容する）。
func NewWaitEstimator(averageServiceMinutes float64, minimumWaitMinutes int) WaitEstimator {
	if averageServiceMinutes <= 0 {
		averageServiceMinutes = DefaultAverageServiceMinutes
	}
	if minimumWaitMinutes < 0 {
		minimumWaitMinutes = DefaultMinimumWaitMinutes
	}
	return WaitEstimator{
		AverageServiceMinutes: averageServiceMinutes,
		MinimumWaitMinutes:    minimumWaitMinutes,
	}
}

// Estimate は ceil(patientsAhead * S) を下限MinimumWaitMinutesで切り上げた値を返す。
// 負の前方人数は0として扱う。
func (e WaitEstimator) Estimate(patientsAhead int) int {
	if patientsAhead < 0 {
		patientsAhead = 0
	}
	minutes := int(math.Ceil(float64(patientsAhead) * e.AverageServiceMinutes))
	if minutes < e.MinimumWaitMinutes {
		return e.MinimumWaitMinutes
	}
	return minutes
}

// WaitLabel は待ち時間の目安ラベルを返す。
// キオスクの待ち時間表示と同じ区分を使用する。
func WaitLabel(minutes int) string {
	switch {
	case minutes < 15:
		return "Short Wait"
	case minutes < 30:
		return "Moderate Wait"
	case minutes < 60:
		return "Busy"
	default:
		return "Very Busy"
	}
}
