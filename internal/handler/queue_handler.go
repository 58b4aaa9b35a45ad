package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fountain/internal/checkin"
	"github.com/hitoshi/fountain/internal/clinic"
	"github.com/hitoshi/fountain/internal/model"
	"github.com/hitoshi/fountain/internal/queue"
)

// CheckInServiceInterface は受付ハンドラーが必要とするサービスインターフェース。
type CheckInServiceInterface interface {
	// CheckIn は生の入力を検証し、患者を待ち行列に登録する。
	CheckIn(ctx context.Context, rawName, rawPhone string) (*checkin.Result, error)
}

// StatusTrackerInterface は待ち行列の状態参照と離脱のためのインターフェース。
type StatusTrackerInterface interface {
	// Status は指定エントリの現在の状態を返す。
	Status(id string) (queue.View, error)
	// Leave は指定エントリを待ち行列から外す。
	Leave(id string) (queue.View, error)
	// Snapshot はクリニック全体の待ち行列の射影を返す。
	Snapshot() queue.Snapshot
}

// QueueHandlerConfig はクリニック状態の判定に必要な設定。
type QueueHandlerConfig struct {
	Hours           clinic.Hours
	BusyWaitMinutes int
}

// QueueHandler はチェックインと待ち行列のHTTPハンドラー。
type QueueHandler struct {
	service CheckInServiceInterface
	tracker StatusTrackerInterface
	config  QueueHandlerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewQueueHandler はQueueHandlerを生成する。
func NewQueueHandler(service CheckInServiceInterface, tracker StatusTrackerInterface, config QueueHandlerConfig, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		service: service,
		tracker: tracker,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// checkInRequest はチェックインリクエストのボディ。
type checkInRequest struct {
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
}

// checkInResponse はチェックイン成功時のレスポンス。
type checkInResponse struct {
	Success       bool   `json:"success"`
	QueueNumber   int    `json:"queueNumber"`
	EstimatedWait int    `json:"estimatedWait"`
	PatientsAhead int    `json:"patientsAhead"`
	Timestamp     string `json:"timestamp"`
	EntryID       string `json:"entryId"`
	TrackingURL   string `json:"trackingUrl"`
}

// queueStatusResponse はクリニック全体の待ち状況。
type queueStatusResponse struct {
	CurrentWaitTime int                `json:"currentWaitTime"`
	QueueLength     int                `json:"queueLength"`
	ClinicStatus    model.ClinicStatus `json:"clinicStatus"`
	WaitLabel       string             `json:"waitLabel"`
}

// leaveRequest は離脱リクエストのボディ。
type leaveRequest struct {
	EntryID string `json:"entryId"`
}

// entryResponse は患者ごとの状態。
type entryResponse struct {
	EntryID       string       `json:"entryId"`
	QueueNumber   int          `json:"queueNumber"`
	Status        model.Status `json:"status"`
	PatientsAhead int          `json:"patientsAhead"`
	EstimatedWait int          `json:"estimatedWait"`
	AdmittedAt    string       `json:"admittedAt"`
	ReadyAt       *string      `json:"readyAt,omitempty"`
	LeftAt        *string      `json:"leftAt,omitempty"`
}

// CheckIn は患者の受付を処理する。
// POST /check-in
func (h *QueueHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("malformed JSON body"))
		return
	}

	result, err := h.service.CheckIn(r.Context(), req.FullName, req.PhoneNumber)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, validationErrorResponse{
				Error:   "Invalid input",
				Details: verr.Fields,
			})
			return
		}

		h.logger.Error("チェックインに失敗しました", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Check-in failed"})
		return
	}

	writeJSON(w, http.StatusOK, checkInResponse{
		Success:       true,
		QueueNumber:   result.Position,
		EstimatedWait: result.EstimatedWaitMinutes,
		PatientsAhead: result.PatientsAhead,
		Timestamp:     formatTime(result.AdmittedAt),
		EntryID:       result.EntryID,
		TrackingURL:   result.TrackingURL,
	})
}

// QueueStatus はクリニック全体の待ち状況を返す。
// GET /queue/status
func (h *QueueHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()
	wait := snapshot.EstimatedWaitMinutes

	writeJSON(w, http.StatusOK, queueStatusResponse{
		CurrentWaitTime: wait,
		QueueLength:     snapshot.QueueLength,
		ClinicStatus:    h.config.Hours.Status(h.now(), wait, h.config.BusyWaitMinutes),
		WaitLabel:       queue.WaitLabel(wait),
	})
}

// GetEntry は患者ごとの状態を返す。
// GET /queue/entries/{id}
func (h *QueueHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")

	view, err := h.tracker.Status(entryID)
	if err != nil {
		h.handleEntryError(w, entryID, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(view))
}

// Leave は患者本人の操作で待ち行列から離脱する。
// すでに離脱済みの場合も200で現在の状態を返す。
// POST /queue/leave
func (h *QueueHandler) Leave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("malformed JSON body"))
		return
	}
	if req.EntryID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("entryId is required"))
		return
	}

	view, err := h.tracker.Leave(req.EntryID)
	if err != nil {
		h.handleEntryError(w, req.EntryID, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(view))
}

// handleEntryError はエントリ参照時のエラーをレスポンスに変換する。
func (h *QueueHandler) handleEntryError(w http.ResponseWriter, entryID string, err error) {
	if errors.Is(err, queue.ErrEntryNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Entry not found"})
		return
	}
	h.logger.Error("エントリの参照に失敗しました",
		slog.String("entry_id", entryID),
		slog.String("error", err.Error()),
	)
	handleServiceError(w, err)
}

func toEntryResponse(v queue.View) entryResponse {
	resp := entryResponse{
		EntryID:       v.EntryID,
		QueueNumber:   v.Position,
		Status:        v.Status,
		PatientsAhead: v.PatientsAhead,
		EstimatedWait: v.EstimatedWaitMinutes,
		AdmittedAt:    formatTime(v.AdmittedAt),
	}
	if v.ReadyAt != nil {
		s := formatTime(*v.ReadyAt)
		resp.ReadyAt = &s
	}
	if v.LeftAt != nil {
		s := formatTime(*v.LeftAt)
		resp.LeftAt = &s
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
