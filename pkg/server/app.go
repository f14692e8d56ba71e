package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BarHarvest/internal/domain/repository"
	"BarHarvest/internal/usecase"
	"BarHarvest/pkg/cache"
	pkgch "BarHarvest/pkg/clickhouse"
	"BarHarvest/pkg/config"
	xhttp "BarHarvest/pkg/http"
	pkgkafka "BarHarvest/pkg/kafka"
	applogger "BarHarvest/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	harvester  *usecase.Harvester
	catalog    repository.SymbolCatalog
	sink       repository.OutcomeSink
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	httpServer *xhttp.Server
	chClient   *pkgch.Client
	producer   *pkgkafka.Producer
	cache      cache.Store
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	harvester *usecase.Harvester,
	catalog repository.SymbolCatalog,
	sink repository.OutcomeSink,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	return &App{
		cfg:       cfg,
		log:       log,
		harvester: harvester,
		catalog:   catalog,
		sink:      sink,
	}
}

// SetHTTPServer attaches the status API; nil leaves it off.
func (a *App) SetHTTPServer(s *xhttp.Server) { a.httpServer = s }

// SetConsumer attaches a consumer and the handler it runs.
func (a *App) SetConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = kh
}

// SetInfra hands over shared clients so shutdown can release them. Any may be nil.
func (a *App) SetInfra(ch *pkgch.Client, producer *pkgkafka.Producer, svc cache.Store) {
	a.chClient = ch
	a.producer = producer
	a.cache = svc
}

// Run starts the application and blocks until interrupted or the harvester stops.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg != nil {
		a.log.Info("barharvest starting",
			applogger.String("storage", a.cfg.Storage.Root),
			applogger.String("catalog", a.cfg.Catalog.Backend),
			applogger.Int("workers", a.cfg.Harvest.NumProcesses),
		)
		if a.cfg.Kafka.Enabled {
			a.log.Info("publishing outcomes", applogger.Strings("brokers", a.cfg.Kafka.Brokers), applogger.String("topic", a.cfg.Kafka.Topic))
		}
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
			return err
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return err
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- a.harvester.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		runErr = <-done
	case runErr = <-done:
		if runErr != nil {
			a.log.Error("harvester stopped", applogger.Error(runErr))
		}
	}

	return errors.Join(runErr, a.shutdown())
}

// shutdown stops intake first, then releases sinks and clients in dependency order.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("outcome sink close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.log.Warn("catalog close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.log.Info("shutdown complete")
	// The collector flushes through the producer, so it goes before it.
	a.log.RemoveCollector()
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
