package model

// ClinicStatus はクリニック全体の受付状態を表す。
type ClinicStatus string

const (
	// ClinicStatusOpen は通常受付中。
	ClinicStatusOpen ClinicStatus = "open"
	// ClinicStatusClosed は受付時間外。
	ClinicStatusClosed ClinicStatus = "closed"
	// ClinicStatusBusy は推定待ち時間が混雑閾値以上。
	ClinicStatusBusy ClinicStatus = "busy"
)
