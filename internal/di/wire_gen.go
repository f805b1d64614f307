// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package di

import (
	"ChartDesk/pkg/config"
	"ChartDesk/pkg/server"
)

// Injectors from wire.go:

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	metrics := ProvideMetrics()
	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	tickPublisher := ProvideTickPublisher(producer, cfg)
	client, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	tickWriter := ProvideTickWriter(client, logger)
	ingestor := ProvideIngestor(cfg, tickPublisher, tickWriter, metrics, logger)
	tickPipeline := ProvideTickPipeline(ingestor, metrics, cfg)
	adapter := ProvideStreamAdapter(cfg, logger, metrics, tickPipeline)
	consumer, err := ProvideKafkaConsumer(cfg)
	if err != nil {
		return nil, err
	}
	barSinkHandler := ProvideBarSinkHandler(cfg, tickWriter, logger)
	calendar, err := ProvideCalendar(cfg)
	if err != nil {
		return nil, err
	}
	candleStore := ProvideCandleStore(client, calendar, logger, cfg)
	vendorAPI := ProvideVendorAPI(cfg, logger)
	computer := ProvideWindowComputer(calendar)
	ring := ProvideDiagRing()
	reconciler := ProvideReconciler(adapter, vendorAPI, metrics, ring, logger)
	postureAggregator := ProvidePostureAggregator(calendar)
	service := ProvideMarketService(cfg, candleStore, vendorAPI, computer, reconciler, postureAggregator, calendar, logger)
	responseCache := ProvideResponseCache()
	limiter := ProvideLimiter()
	cacheService, err := ProvideSharedCache(cfg)
	if err != nil {
		return nil, err
	}
	marketHandler := ProvideMarketHandler(cfg, logger, service, responseCache, limiter, adapter, candleStore, vendorAPI, ring, cacheService)
	app := ProvideApp(cfg, logger, adapter, tickPipeline, ingestor, consumer, barSinkHandler, client, marketHandler, cacheService)
	return app, nil
}
