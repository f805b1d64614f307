package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mid "ChartDesk/internal/middleware"
	"ChartDesk/internal/service/stream"
	"ChartDesk/internal/usecase"
	pkgcache "ChartDesk/pkg/cache"
	pkgch "ChartDesk/pkg/clickhouse"
	"ChartDesk/pkg/config"
	xhttp "ChartDesk/pkg/http"
	pkgkafka "ChartDesk/pkg/kafka"
	applogger "ChartDesk/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	log      *applogger.Logger
	adapter  *stream.Adapter
	pipe     *mid.TickPipeline
	ingestor *usecase.Ingestor
	consumer *pkgkafka.Consumer
	barSink  pkgkafka.MessageHandler
	chClient *pkgch.Client
	shared   pkgcache.Service

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	adapter *stream.Adapter,
	pipe *mid.TickPipeline,
	ingestor *usecase.Ingestor,
	consumer *pkgkafka.Consumer,
	barSink pkgkafka.MessageHandler,
	chClient *pkgch.Client,
	handler xhttp.Handler,
	shared pkgcache.Service,
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		adapter:     adapter,
		pipe:        pipe,
		ingestor:    ingestor,
		consumer:    consumer,
		barSink:     barSink,
		chClient:    chClient,
		shared:      shared,
		httpHandler: handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithServerTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Ingestion path: sink workers first, then the throttle pipeline, then
	// the socket adapter that feeds it.
	a.ingestor.Start(ctx)
	a.pipe.Start(ctx)
	a.adapter.Start(ctx)
	a.log.Info("stream adapter started",
		applogger.String("url", a.cfg.Stream.URL),
		applogger.Strings("symbols", a.cfg.Stream.Symbols))

	// Drain minute bars from the bus when the kafka backend is configured.
	if a.consumer != nil && a.barSink != nil {
		a.consumer.RegisterHandler(a.barSink)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.barSink.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services, upstream first so the ingestion
// path drains before its sinks close.
func (a *App) shutdown(ctx context.Context) error {
	a.adapter.Stop()
	a.pipe.Stop()
	a.ingestor.Stop()

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if a.shared != nil {
		if err := a.shared.Close(); err != nil {
			a.log.Warn("shared cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
