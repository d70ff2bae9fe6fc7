package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	FetchMetrics *FetchMetrics
	AppMetrics   *AppMetrics
	KafkaMetrics *KafkaMetrics
	SQSMetrics   *SQSMetrics
	Close        func()
}

// FetchMetrics counts document fetches by outcome ("ok", "not_found", "timeout", "error").
type FetchMetrics struct {
	FetchCnt func(status string, count int64)
}

// AppMetrics counts finished companies by discovery status and the page rows written for them.
type AppMetrics struct {
	CompanyCnt       func(status string, count int64)
	PagesInsertedCnt func(count int64)
	PagesRejectedCnt func(count int64)
}

type KafkaMetrics struct {
	SuccessMsgCnt func(count int64)
	FailMsgCnt    func(count int64)
}

type SQSMetrics struct {
	SuccessMsgCnt func(count int64)
	FailMsgCnt    func(count int64)
	SentMsgCnt    func(count int64)
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	metricsProvider := new(MetricsProvider)
	var meterProvider *sdkmetric.MeterProvider
	enabled := cfg.TelemetrySettings != nil && cfg.TelemetrySettings.Enabled

	if enabled {
		r, err := newResource(cfg)
		if err != nil {
			slog.Error("failed to get resource.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
		if err != nil {
			slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		meterProvider = newMeterProvider(exporter, *r)
		otel.SetMeterProvider(meterProvider)
	}

	meter = otel.Meter(cfg.ServiceName)
	metricsProvider.Close = func() {
		if meterProvider != nil {
			err := meterProvider.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		}
	}

	// Set up fetch metrics
	fetchCounter, err := meter.Int64Counter("sitemap-intel.fetch",
		metric.WithDescription("The number of sitemap documents requested, by outcome"),
		metric.WithUnit("{documents}"))
	if err != nil {
		slog.Error("failed to create telemetry counters for fetcher.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.FetchMetrics = &FetchMetrics{
		FetchCnt: func(status string, count int64) {
			if enabled {
				fetchCounter.Add(ctx, count, metric.WithAttributes(attribute.String("status", status)))
			}
		},
	}

	// Set up discovery metrics
	companyCounter, err1 := meter.Int64Counter("sitemap-intel.companies",
		metric.WithDescription("The number of companies processed, by discovery status"),
		metric.WithUnit("{companies}"))
	insertedCounter, err2 := meter.Int64Counter("sitemap-intel.pages.inserted",
		metric.WithDescription("The number of page rows written"),
		metric.WithUnit("{pages}"))
	rejectedCounter, err3 := meter.Int64Counter("sitemap-intel.pages.rejected",
		metric.WithDescription("The number of page rows the database refused"),
		metric.WithUnit("{pages}"))
	if err = errors.Join(err1, err2, err3); err != nil {
		slog.Error("failed to create telemetry counters for worker.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.AppMetrics = &AppMetrics{
		CompanyCnt: func(status string, count int64) {
			if enabled {
				companyCounter.Add(ctx, count, metric.WithAttributes(attribute.String("status", status)))
			}
		},
		PagesInsertedCnt: func(count int64) {
			if enabled {
				insertedCounter.Add(ctx, count)
			}
		},
		PagesRejectedCnt: func(count int64) {
			if enabled {
				rejectedCounter.Add(ctx, count)
			}
		},
	}

	// Set up kafka metrics
	kafkaSuccessCounter, err1 := meter.Int64Counter("sitemap-intel.kafka.send.success",
		metric.WithDescription("The number of reports that kafka accepted"),
		metric.WithUnit("{messages}"))
	kafkaFailCounter, err2 := meter.Int64Counter("sitemap-intel.kafka.send.fail",
		metric.WithDescription("The number of reports that kafka could not accept"),
		metric.WithUnit("{messages}"))
	if err = errors.Join(err1, err2); err != nil {
		slog.Error("failed to create telemetry counters for kafka.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.KafkaMetrics = &KafkaMetrics{
		SuccessMsgCnt: func(count int64) {
			if enabled {
				kafkaSuccessCounter.Add(ctx, count)
			}
		},
		FailMsgCnt: func(count int64) {
			if enabled {
				kafkaFailCounter.Add(ctx, count)
			}
		},
	}

	// Set up sqs metrics
	sqsSuccessCounter, err1 := meter.Int64Counter("sitemap-intel.sqs.receive.success",
		metric.WithDescription("The number of tasks received from sqs"),
		metric.WithUnit("{messages}"))
	sqsFailCounter, err2 := meter.Int64Counter("sitemap-intel.sqs.receive.fail",
		metric.WithDescription("The number of sqs calls that failed"),
		metric.WithUnit("{messages}"))
	sqsSentCounter, err3 := meter.Int64Counter("sitemap-intel.sqs.sent",
		metric.WithDescription("The number of tasks sent to sqs"),
		metric.WithUnit("{messages}"))
	if err = errors.Join(err1, err2, err3); err != nil {
		slog.Error("failed to create telemetry counters for sqs.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	metricsProvider.SQSMetrics = &SQSMetrics{
		SuccessMsgCnt: func(count int64) {
			if enabled {
				sqsSuccessCounter.Add(ctx, count)
			}
		},
		FailMsgCnt: func(count int64) {
			if enabled {
				sqsFailCounter.Add(ctx, count)
			}
		},
		SentMsgCnt: func(count int64) {
			if enabled {
				sqsSentCounter.Add(ctx, count)
			}
		},
	}

	return metricsProvider
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
}
