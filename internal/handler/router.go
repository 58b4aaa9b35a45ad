package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/fountain/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// チェックインと待ち行列
	CheckInService CheckInServiceInterface
	StatusTracker  StatusTrackerInterface
	QueueConfig    QueueHandlerConfig

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → CORS → Logging
//
// チェックインのみクライアントIPごとのレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	queueHandler := NewQueueHandler(deps.CheckInService, deps.StatusTracker, deps.QueueConfig, deps.Logger)

	// チェックイン（キオスク）
	if deps.RateLimiter != nil {
		r.With(deps.RateLimiter.CheckInMiddleware()).Post("/check-in", queueHandler.CheckIn)
	} else {
		r.Post("/check-in", queueHandler.CheckIn)
	}

	// 待ち行列（患者向けWeb・待合室ディスプレイ）
	r.Route("/queue", func(r chi.Router) {
		r.Get("/status", queueHandler.QueueStatus)
		r.Post("/leave", queueHandler.Leave)
		r.Get("/entries/{id}", queueHandler.GetEntry)
	})

	// 運用
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	return r
}
