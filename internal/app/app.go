package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/fountain/internal/broadcast"
	"github.com/hitoshi/fountain/internal/config"
	"github.com/hitoshi/fountain/internal/database"
	"github.com/hitoshi/fountain/internal/handler"
	"github.com/hitoshi/fountain/internal/logger"
	"github.com/hitoshi/fountain/internal/metrics"
	"github.com/hitoshi/fountain/internal/middleware"
	"github.com/hitoshi/fountain/internal/repository"
	"github.com/hitoshi/fountain/internal/telemetry"
	"github.com/hitoshi/fountain/internal/worker/advance"
	"github.com/hitoshi/fountain/internal/worker/cleanup"
)

const (
	serviceName            = "fountain"
	defaultHealthcheckPort = "8080"

	dbPingTimeout        = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
	journalStopTimeout   = 10 * time.Second
	broadcastStopTimeout = 5 * time.Second
	cleanupInterval      = time.Hour
	redisPingTimeout     = 2 * time.Second
	healthcheckTimeout   = 5 * time.Second
	serverReadTimeout    = 15 * time.Second
	serverWriteTimeout   = 15 * time.Second
	serverIdleTimeout    = 60 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envを環境変数に反映（既存の環境変数が優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultHealthcheckPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("clinic", cfg.ClinicName),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandPurge:
		return runPurge(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// 当日セッションを復元し、全依存関係をワイヤリングしてHTTPサーバーと定期ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return err
	}
	slog.Info("database connection established")

	// 2. トレース
	shutdownTracing := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	}, log)

	// 3. 待ち行列と受付サービス
	repo := repository.NewPostgresEntryRepo(db)
	registry := prometheus.NewRegistry()

	qc, err := newQueueComponents(ctx, cfg, repo, registry, log)
	if err != nil {
		return err
	}

	// 4. 状態変化の配信（任意）
	var broadcaster *broadcast.Broadcaster
	if cfg.RedisAddr != "" {
		publisher := broadcast.NewRedisPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer publisher.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, redisPingTimeout)
		if err := publisher.Ping(pingCtx); err != nil {
			slog.Warn("Redisに接続できません。配信は失敗時にログのみ残します",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		}
		pingCancel()

		broadcaster = broadcast.NewBroadcaster(publisher, cfg.RedisChannel, log)
		qc.ledger.AddObserver(broadcaster)
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitCheckIn))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,

		CheckInService: qc.service,
		StatusTracker:  qc.tracker,
		QueueConfig: handler.QueueHandlerConfig{
			Hours:           cfg.ClinicHours,
			BusyWaitMinutes: cfg.BusyWaitMinutes,
		},

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
	})

	// 6. バックグラウンドジョブ
	var workers sync.WaitGroup
	go qc.journal.Run(ctx)
	if broadcaster != nil {
		go broadcaster.Run(ctx)
	}

	advancer := advance.NewAdvancer(qc.tracker, log)
	cleanupJob := cleanup.NewCleanupJob(qc.ledger, repo, cfg.ClinicHours, log)
	cleanupJob.RetentionDays = cfg.RetentionDays

	workers.Add(2)
	go func() {
		defer workers.Done()
		advancer.Start(ctx, cfg.StatusAdvanceInterval)
	}()
	go func() {
		defer workers.Done()
		cleanupJob.Start(ctx, cleanupInterval)
	}()

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("session_date", qc.ledger.Session()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var listenErr error
	select {
	case <-stop:
		slog.Info("shutting down API server...")
	case listenErr = <-serverErr:
		slog.Error("server listen error", slog.String("error", listenErr.Error()))
	}

	// 8. グレースフルシャットダウン
	// 受付を止めた後、送信中のSMSとジャーナルの書き込みを待つ
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	cancel()
	workers.Wait()
	qc.dispatcher.Wait()

	if err := qc.journal.Stop(journalStopTimeout); err != nil {
		slog.Error("journal did not drain before timeout", slog.String("error", err.Error()))
	}
	if broadcaster != nil {
		if err := broadcaster.Stop(broadcastStopTimeout); err != nil {
			slog.Warn("broadcaster did not drain before timeout", slog.String("error", err.Error()))
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}

	if listenErr != nil {
		return fmt.Errorf("server listen failed: %w", listenErr)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	result, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(result.Version)),
		slog.Bool("applied", result.Applied),
	)
	return nil
}

// runPurge は保持期間を過ぎたジャーナルを1回だけ削除する。
// 稼働中のLedgerを持たないため、セッション切り替えは行わない。
func runPurge(cfg *config.Config) error {
	ctx := context.Background()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return err
	}

	job := cleanup.NewCleanupJob(nil, repository.NewPostgresEntryRepo(db), cfg.ClinicHours, slog.Default())
	job.RetentionDays = cfg.RetentionDays

	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: healthcheckTimeout}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
