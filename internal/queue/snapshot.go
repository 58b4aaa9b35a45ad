package queue

// Snapshot はクリニック全体の待ち行列の読み取り専用射影。
// 永続化せず、読み取りのたびにLedgerから再計算する。
type Snapshot struct {
	QueueLength           int
	AverageServiceMinutes float64
	EstimatedWaitMinutes  int // 今受付した場合の推定待ち時間
	NextPosition          int
}

// TakeSnapshot はLedgerの現在状態からSnapshotを算出する。
// 待ち時間の計算はLedgerのロック外で行う。
func TakeSnapshot(ledger *Ledger, estimator WaitEstimator) Snapshot {
	length := ledger.ActiveCount()
	return Snapshot{
		QueueLength:           length,
		AverageServiceMinutes: estimator.AverageServiceMinutes,
		EstimatedWaitMinutes:  estimator.Estimate(length),
		NextPosition:          ledger.NextPosition(),
	}
}
