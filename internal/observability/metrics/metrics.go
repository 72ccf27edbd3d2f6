// Package metrics configures the OpenTelemetry meter provider and the
// application-level instruments.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	featureVerifications metric.Int64Counter
	usageReports         metric.Int64Counter
	subscriptionCreates  metric.Int64Counter
	verifyLatency        metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		},
	})

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "planfold"
	}
	meter := provider.Meter(name)

	featureVerifications, err := meter.Int64Counter("planfold.entitlement.verifications",
		metric.WithDescription("Feature verification decisions by outcome."))
	if err != nil {
		return nil, err
	}

	usageReports, err := meter.Int64Counter("planfold.usage.reports",
		metric.WithDescription("Usage reports accepted into the ledger."))
	if err != nil {
		return nil, err
	}

	subscriptionCreates, err := meter.Int64Counter("planfold.subscription.creates",
		metric.WithDescription("Subscriptions provisioned, by result."))
	if err != nil {
		return nil, err
	}

	verifyLatency, err := meter.Float64Histogram("planfold.entitlement.verify_latency_ms",
		metric.WithDescription("Feature verification latency in milliseconds."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		featureVerifications: featureVerifications,
		usageReports:         usageReports,
		subscriptionCreates:  subscriptionCreates,
		verifyLatency:        verifyLatency,
	}, nil
}

func (m *Metrics) RecordVerification(ctx context.Context, access bool, deniedReason string, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.Bool("access", access)}
	if deniedReason != "" {
		attrs = append(attrs, attribute.String("denied_reason", deniedReason))
	}
	m.featureVerifications.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.verifyLatency.Record(ctx, float64(latency.Microseconds())/1000, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordUsageReport(ctx context.Context, featureSlug string) {
	if m == nil {
		return
	}
	m.usageReports.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", featureSlug)))
}

func (m *Metrics) RecordSubscriptionCreate(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.subscriptionCreates.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
