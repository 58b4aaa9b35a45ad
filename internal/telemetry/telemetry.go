// Package telemetry はOpenTelemetryのトレース出力を初期化する。
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc はトレースプロバイダを停止し、未送信のスパンを送出する。
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Options はトレース出力の設定。
type Options struct {
	ServiceName string
	Endpoint    string // 空の場合はトレースを無効化する
	Insecure    bool
}

// Setup はOTLP gRPCエクスポータでグローバルTracerProviderを設定する。
// Endpointが空の場合、またはエクスポータの生成に失敗した場合は何もしない。
func Setup(ctx context.Context, opts Options, logger *slog.Logger) ShutdownFunc {
	if opts.Endpoint == "" {
		logger.Info("トレース出力は無効です（OTEL_EXPORTER_OTLP_ENDPOINT 未設定）")
		return noop
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		logger.Error("OTLPエクスポータの生成に失敗しました", slog.String("error", err.Error()))
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(opts.ServiceName)))
	if err != nil {
		logger.Warn("トレースリソースの生成に失敗しました", slog.String("error", err.Error()))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Info("トレース出力を開始しました",
		slog.String("endpoint", opts.Endpoint),
		slog.String("service", opts.ServiceName),
	)
	return provider.Shutdown
}
