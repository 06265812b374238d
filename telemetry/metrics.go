// Package telemetry wires the handful of counters and gauges Stats()
// needs into an OpenTelemetry meter, with an optional Prometheus
// /metrics endpoint and an optional OTLP gRPC exporter, mirroring the
// reference corpus's metrics wiring scaled down from HTTP-proxy metrics
// to cache-tier metrics.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const meterName = "github.com/nfscache/nfscache"

// Config configures the metrics system.
type Config struct {
	// ServiceName sets the resource's service.name attribute.
	ServiceName string
	// ServiceVersion sets the resource's service.version attribute.
	ServiceVersion string
	// OTLPEndpoint is an OTLP gRPC endpoint (e.g. "localhost:4317").
	// Empty disables OTLP export.
	OTLPEndpoint string
	// EnablePrometheus registers the Prometheus exporter and makes its
	// /metrics handler available from PrometheusHandler. This package
	// does not start an HTTP server for it.
	EnablePrometheus bool
	// FlushInterval controls how often metrics are exported. Default 10s.
	FlushInterval time.Duration
}

// Metrics holds the cache's OpenTelemetry instruments.
type Metrics struct {
	hitsTotal     metric.Int64Counter
	missesTotal   metric.Int64Counter
	evictedTotal  metric.Int64Counter
	expiredTotal  metric.Int64Counter
	corruptTotal  metric.Int64Counter
	setTotal      metric.Int64Counter
	deleteTotal   metric.Int64Counter
	hotHitsTotal  metric.Int64Counter
	totalBytes    metric.Int64Gauge
	entryCount    metric.Int64Gauge
	hotBytes      metric.Int64Gauge
	vacuumRunTime metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	global   *Metrics
	initOnce sync.Once
	initErr  error
)

// Init initializes the global metrics instance. Safe to call more than
// once; only the first call takes effect. Returns a shutdown function.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInit(ctx, cfg)
	})
	if initErr != nil {
		return nil, initErr
	}
	return Shutdown, nil
}

func doInit(ctx context.Context, cfg Config) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nfscache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.FlushInterval)))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{}, sdkmetric.WithInterval(cfg.FlushInterval)))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	hitsTotal, err := meter.Int64Counter("nfscache_hits_total", metric.WithDescription("Cache hits"), metric.WithUnit("{hit}"))
	if err != nil {
		return err
	}
	missesTotal, err := meter.Int64Counter("nfscache_misses_total", metric.WithDescription("Cache misses"), metric.WithUnit("{miss}"))
	if err != nil {
		return err
	}
	evictedTotal, err := meter.Int64Counter("nfscache_evicted_total", metric.WithDescription("Entries removed by trim, expiry, vacuum or corrupt-entry quarantine"), metric.WithUnit("{entry}"))
	if err != nil {
		return err
	}
	expiredTotal, err := meter.Int64Counter("nfscache_expired_total", metric.WithDescription("Entries removed for expiry"), metric.WithUnit("{entry}"))
	if err != nil {
		return err
	}
	corruptTotal, err := meter.Int64Counter("nfscache_corrupt_reads_total", metric.WithDescription("Reads that failed codec verification"), metric.WithUnit("{read}"))
	if err != nil {
		return err
	}
	setTotal, err := meter.Int64Counter("nfscache_set_total", metric.WithDescription("Set calls committed"), metric.WithUnit("{op}"))
	if err != nil {
		return err
	}
	deleteTotal, err := meter.Int64Counter("nfscache_delete_total", metric.WithDescription("Delete calls committed"), metric.WithUnit("{op}"))
	if err != nil {
		return err
	}
	hotHitsTotal, err := meter.Int64Counter("nfscache_hot_hits_total", metric.WithDescription("Hits served directly from the hot tier"), metric.WithUnit("{hit}"))
	if err != nil {
		return err
	}
	totalBytes, err := meter.Int64Gauge("nfscache_total_bytes", metric.WithDescription("Total bytes of cached values on disk"), metric.WithUnit("By"))
	if err != nil {
		return err
	}
	entryCount, err := meter.Int64Gauge("nfscache_entry_count", metric.WithDescription("Number of entries tracked by the index"), metric.WithUnit("{entry}"))
	if err != nil {
		return err
	}
	hotBytes, err := meter.Int64Gauge("nfscache_hot_bytes", metric.WithDescription("Total bytes held in the hot tier"), metric.WithUnit("By"))
	if err != nil {
		return err
	}
	vacuumRunTime, err := meter.Float64Histogram("nfscache_vacuum_duration_seconds", metric.WithDescription("Vacuum sweep duration"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	global = &Metrics{
		hitsTotal:     hitsTotal,
		missesTotal:   missesTotal,
		evictedTotal:  evictedTotal,
		expiredTotal:  expiredTotal,
		corruptTotal:  corruptTotal,
		setTotal:      setTotal,
		deleteTotal:   deleteTotal,
		hotHitsTotal:  hotHitsTotal,
		totalBytes:    totalBytes,
		entryCount:    entryCount,
		hotBytes:      hotBytes,
		vacuumRunTime: vacuumRunTime,
		meterProvider: mp,
		promHandler:   promHandler,
	}
	return nil
}

// Shutdown shuts down the metrics provider and clears the global instance.
func Shutdown(ctx context.Context) error {
	if global == nil {
		return nil
	}
	err := global.meterProvider.Shutdown(ctx)
	global = nil
	return err
}

// PrometheusHandler returns the /metrics HTTP handler, or nil if
// Prometheus export wasn't enabled.
func PrometheusHandler() http.Handler {
	if global == nil {
		return nil
	}
	return global.promHandler
}

// RecordHit records a cache hit, split by whether it was served from the
// hot tier.
func RecordHit(ctx context.Context, fromHotTier bool) {
	if global == nil {
		return
	}
	global.hitsTotal.Add(ctx, 1)
	if fromHotTier {
		global.hotHitsTotal.Add(ctx, 1)
	}
}

// RecordMiss records a cache miss.
func RecordMiss(ctx context.Context) {
	if global == nil {
		return
	}
	global.missesTotal.Add(ctx, 1)
}

// RecordSet records a committed Set call.
func RecordSet(ctx context.Context) {
	if global == nil {
		return
	}
	global.setTotal.Add(ctx, 1)
}

// RecordDelete records a committed Delete call.
func RecordDelete(ctx context.Context) {
	if global == nil {
		return
	}
	global.deleteTotal.Add(ctx, 1)
}

// RecordEviction records n entries removed from the cache. The cache
// calls it for every removal through its shared removal path: trim
// evictions, and also expiry, vacuum and corrupt-entry removals.
func RecordEviction(ctx context.Context, n int) {
	if global == nil || n == 0 {
		return
	}
	global.evictedTotal.Add(ctx, int64(n))
}

// RecordExpired records n entries removed for having expired.
func RecordExpired(ctx context.Context, n int) {
	if global == nil || n == 0 {
		return
	}
	global.expiredTotal.Add(ctx, int64(n))
}

// RecordCorruptRead records a read that failed codec verification.
func RecordCorruptRead(ctx context.Context) {
	if global == nil {
		return
	}
	global.corruptTotal.Add(ctx, 1)
}

// RecordVacuumRun records the wall-clock duration of one vacuum sweep.
func RecordVacuumRun(ctx context.Context, d time.Duration) {
	if global == nil {
		return
	}
	global.vacuumRunTime.Record(ctx, d.Seconds())
}

// SetGauges publishes the current index/hot-tier sizes. It is called
// after every committed mutation rather than on a timer, since these
// figures are already an O(1) read of live counters in the caller.
func SetGauges(ctx context.Context, totalBytes, entryCount, hotBytes int64) {
	if global == nil {
		return
	}
	global.totalBytes.Record(ctx, totalBytes)
	global.entryCount.Record(ctx, entryCount)
	global.hotBytes.Record(ctx, hotBytes)
}

// noopExporter discards metrics when neither OTLP nor Prometheus export
// is configured, so instruments still have somewhere to report to.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation { return nil }

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error { return nil }

func (noopExporter) ForceFlush(_ context.Context) error { return nil }

func (noopExporter) Shutdown(_ context.Context) error { return nil }
