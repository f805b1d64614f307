package di

import (
	"context"
	"fmt"
	"time"

	"ChartDesk/internal/domain/repository"
	"ChartDesk/internal/handler/api"
	mid "ChartDesk/internal/middleware"
	internalrepo "ChartDesk/internal/repository"
	svccache "ChartDesk/internal/service/cache"
	"ChartDesk/internal/service/calendar"
	"ChartDesk/internal/service/diag"
	"ChartDesk/internal/service/provider"
	"ChartDesk/internal/service/ratelimit"
	"ChartDesk/internal/service/session"
	"ChartDesk/internal/service/stream"
	"ChartDesk/internal/usecase"
	pkgcache "ChartDesk/pkg/cache"
	pkgch "ChartDesk/pkg/clickhouse"
	"ChartDesk/pkg/config"
	pkgkafka "ChartDesk/pkg/kafka"
	applogger "ChartDesk/pkg/logger"
	"ChartDesk/pkg/metrics"
	"ChartDesk/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCalendar creates the exchange trading calendar.
func ProvideCalendar(cfg *config.Config) (*calendar.Calendar, error) {
	return calendar.New(cfg.Calendar.Timezone)
}

// ProvideWindowComputer creates the session window computer.
func ProvideWindowComputer(cal *calendar.Calendar) *session.Computer {
	return session.NewComputer(cal)
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when the ingest
// backend writes to ClickHouse directly.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Ingest.Backend != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the bar-sink consumer, or nil when the ingest
// backend bypasses the bus.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if cfg.Ingest.Backend != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerTopic(cfg.Kafka.Topic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideCandleStore creates the ClickHouse candle reader.
func ProvideCandleStore(chClient *pkgch.Client, cal *calendar.Calendar, l *applogger.Logger, cfg *config.Config) repository.CandleStore {
	return internalrepo.NewCHCandleStore(chClient, cal, l, cfg.Market.DupPriceEps, cfg.Market.DupVolumeEps)
}

// ProvideTickWriter creates the ClickHouse bar writer.
func ProvideTickWriter(chClient *pkgch.Client, l *applogger.Logger) repository.TickWriter {
	return internalrepo.NewCHTickWriter(chClient, l)
}

// ProvideTickPublisher creates the Kafka tick publisher, or nil when no
// producer is configured.
func ProvideTickPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.TickPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaTickPublisher(producer, cfg.Kafka.Topic)
}

// ProvideVendorAPI creates the REST vendor client with its circuit breaker.
func ProvideVendorAPI(cfg *config.Config, l *applogger.Logger) repository.VendorAPI {
	return provider.NewClient(provider.Config{
		BaseURL:         cfg.Vendor.BaseURL,
		APIKey:          cfg.Vendor.APIKey,
		Timeout:         cfg.Vendor.Timeout,
		RateLimitWindow: cfg.Vendor.RateLimitWindow,
		BreakerFailures: cfg.Vendor.BreakerFailures,
		BreakerCooldown: cfg.Vendor.BreakerCooldown,
	}, l)
}

// ProvideIngestor creates the tick ingestion fan-in.
func ProvideIngestor(
	cfg *config.Config,
	publisher repository.TickPublisher,
	writer repository.TickWriter,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Ingestor {
	return usecase.NewIngestor(usecase.IngestConfig{
		Backend:    cfg.Ingest.Backend,
		BufferSize: cfg.Ingest.BufferSize,
	}, publisher, writer, m, l)
}

// ProvideTickPipeline builds the validation and throttling middleware between
// the socket adapter and the ingestor.
func ProvideTickPipeline(ingestor *usecase.Ingestor, m repository.Metrics, cfg *config.Config) *mid.TickPipeline {
	return mid.NewTickPipeline(ingestor, m,
		mid.WithMaxRPS(cfg.Ingest.MaxRPS),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
	)
}

// ProvideStreamAdapter creates the realtime WebSocket adapter.
func ProvideStreamAdapter(cfg *config.Config, l *applogger.Logger, m repository.Metrics, pipe *mid.TickPipeline) *stream.Adapter {
	return stream.New(stream.Config{
		URL:            cfg.Stream.URL,
		APIKey:         cfg.Stream.APIKey,
		Symbols:        cfg.Stream.Symbols,
		BackoffInitial: cfg.Stream.BackoffInitial,
		BackoffMax:     cfg.Stream.BackoffMax,
		JitterPct:      cfg.Stream.JitterPct,
		NotifyInterval: cfg.Stream.NotifyInterval,
	}, l, m, pipe)
}

// ProvideDiagRing creates the source-selection event ring.
func ProvideDiagRing() *diag.Ring {
	return diag.NewRing(256)
}

// ProvideReconciler creates the streaming-vs-REST source reconciler.
func ProvideReconciler(
	adapter *stream.Adapter,
	api repository.VendorAPI,
	m repository.Metrics,
	events *diag.Ring,
	l *applogger.Logger,
) *usecase.Reconciler {
	return usecase.NewReconciler(adapter, api, m, events, l)
}

// ProvidePostureAggregator creates the industry posture aggregator.
func ProvidePostureAggregator(cal *calendar.Calendar) *usecase.PostureAggregator {
	return usecase.NewPostureAggregator(cal)
}

// ProvideMarketService creates the market-data use case service.
func ProvideMarketService(
	cfg *config.Config,
	store repository.CandleStore,
	vendorAPI repository.VendorAPI,
	windows *session.Computer,
	reconciler *usecase.Reconciler,
	aggregator *usecase.PostureAggregator,
	cal *calendar.Calendar,
	l *applogger.Logger,
) *usecase.Service {
	return usecase.NewService(usecase.ServiceDeps{
		Store:      store,
		Vendor:     vendorAPI,
		Windows:    windows,
		Reconciler: reconciler,
		Aggregator: aggregator,
		Calendar:   cal,
		Log:        l,
		Groups:     cfg.Industries,
		IndexProxy: cfg.Market.IndexProxy,
		FanOut:     cfg.Market.FanOutLimit,
		Timeout:    cfg.Market.FetchTimeout,
	})
}

// ProvideResponseCache creates the request-collapsing response cache.
func ProvideResponseCache() *svccache.ResponseCache {
	return svccache.NewResponseCache()
}

// ProvideSharedCache creates the second-level byte cache. Layered over Redis
// when enabled so cached candle responses survive restarts and are shared
// across instances.
func ProvideSharedCache(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Cache.Redis.Enabled {
		return pkgcache.NewMemoryCache(), nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Cache.Redis.Host),
		pkgcache.WithRedisPort(cfg.Cache.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Cache.Redis.Password),
		pkgcache.WithRedisDB(cfg.Cache.Redis.DB),
		pkgcache.WithRedisPrefix("chartdesk:"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc, 1000), nil
}

// ProvideLimiter creates the per-client rate limiter.
func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideBarSinkHandler registers the handler draining minute bars from the bus.
func ProvideBarSinkHandler(cfg *config.Config, writer repository.TickWriter, l *applogger.Logger) *usecase.BarSinkHandler {
	return usecase.NewBarSinkHandler(cfg.Kafka.Topic, writer, l)
}

// ProvideMarketHandler creates the HTTP market handler.
func ProvideMarketHandler(
	cfg *config.Config,
	l *applogger.Logger,
	svc *usecase.Service,
	rc *svccache.ResponseCache,
	limiter *ratelimit.Limiter,
	adapter *stream.Adapter,
	store repository.CandleStore,
	vendorAPI repository.VendorAPI,
	events *diag.Ring,
	shared pkgcache.Service,
) *api.MarketHandler {
	h := api.NewMarketHandler(l, svc, rc, limiter, adapter, store, vendorAPI, events, api.CacheTTLs{
		Candles:         cfg.Cache.CandlesTTL,
		Posture:         cfg.Cache.PostureTTL,
		DegradedPosture: cfg.Cache.DegradedPostureTTL,
	})
	h.SetSharedCache(shared)
	return h
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	adapter *stream.Adapter,
	pipe *mid.TickPipeline,
	ingestor *usecase.Ingestor,
	consumer *pkgkafka.Consumer,
	barSink *usecase.BarSinkHandler,
	chClient *pkgch.Client,
	handler *api.MarketHandler,
	shared pkgcache.Service,
) *server.App {
	return server.New(cfg, l, adapter, pipe, ingestor, consumer, barSink, chClient, handler, shared)
}
