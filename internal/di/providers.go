package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"BarHarvest/internal/domain/repository"
	"BarHarvest/internal/handler/api"
	internalrepo "BarHarvest/internal/repository"
	"BarHarvest/internal/service/auth"
	"BarHarvest/internal/service/ratelimit"
	"BarHarvest/internal/service/tradingview"
	"BarHarvest/internal/usecase"
	"BarHarvest/pkg/cache"
	pkgch "BarHarvest/pkg/clickhouse"
	"BarHarvest/pkg/config"
	pkghttp "BarHarvest/pkg/http"
	pkgkafka "BarHarvest/pkg/kafka"
	"BarHarvest/pkg/logger"
	"BarHarvest/pkg/metrics"
	"BarHarvest/pkg/server"
)

const schemaTimeout = 10 * time.Second

// ProvideLogger creates the application logger from the log section. The error collector
// is attached here so that every child logger shares it.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.FlushInterval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry every metric in the process registers with.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when no host is configured.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.Open(context.Background(), pkgch.Options{
		Host:         ch.Host,
		Port:         ch.Port,
		Database:     ch.Database,
		User:         ch.User,
		Password:     ch.Password,
		HTTP:         ch.UseHTTP,
		AsyncInsert:  ch.AsyncInsert,
		WaitAsync:    ch.WaitForAsync,
		DialTimeout:  ch.DialTimeout,
		ReadTimeout:  ch.ReadTimeout,
		MaxExecution: ch.MaxExecutionTime,
		MaxOpen:      ch.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when outcomes or collected logs go to Kafka.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled && !cfg.Log.Collector.Enabled {
		return nil, nil
	}
	pkgkafka.SetMetricsRegisterer(reg)
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithKeyHashing(true),
	)
	if err != nil {
		return nil, fmt.Errorf("outcome producer: %w", err)
	}
	return producer, nil
}

// ProvideCacheService connects to Redis when auth records are kept there.
func ProvideCacheService(cfg *config.Config) (cache.Store, error) {
	if cfg.Auth.CacheBackend != "redis" {
		return nil, nil
	}
	rc, err := cache.NewRedis(context.Background(), cache.RedisOptions{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		Prefix:      cfg.Redis.Prefix,
		PoolSize:    cfg.Redis.Pool.Size,
		MinIdle:     cfg.Redis.Pool.MinIdle,
		PoolTimeout: cfg.Redis.Pool.WaitTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideAuthProvider signs in through the HTTP client and caches responses on disk or in
// the cache service.
func ProvideAuthProvider(cfg *config.Config, svc cache.Store, log *logger.Logger) repository.AuthProvider {
	var store auth.Store = auth.NewFileCache(cfg.Auth.CacheDir)
	if svc != nil {
		store = auth.NewServiceCache(svc, cfg.Auth.MaxAge)
	}
	return auth.NewProvider(auth.Config{
		Username:    cfg.TradingView.Username,
		Password:    cfg.TradingView.Password,
		SignInURL:   cfg.TradingView.SignInURL,
		Referer:     cfg.TradingView.Origin,
		MaxAge:      cfg.Auth.MaxAge,
		SignInEvery: cfg.Auth.SignInEvery,
	}, pkghttp.NewClient(pkghttp.WithTimeout(cfg.Auth.HTTPTimeout), pkghttp.WithUserAgent(cfg.Auth.UserAgent)), store, ratelimit.New(), log)
}

// ProvideFetcher creates the websocket bar fetcher.
func ProvideFetcher(cfg *config.Config, log *logger.Logger, m repository.Metrics) repository.BarFetcher {
	dialer := tradingview.NewDialer(tradingview.DialerConfig{
		URL:         cfg.TradingView.WebSocketURL,
		Origin:      cfg.TradingView.Origin,
		DialTimeout: cfg.TradingView.DialTimeout,
	})
	return tradingview.NewFetcher(dialer.Dial, tradingview.EngineConfig{
		MaxCS:                  cfg.Harvest.MaxCS,
		MessageTimeout:         cfg.Harvest.MessageTimeout,
		MaxBars:                cfg.Harvest.MaxBars,
		MaxConsecutiveTimeouts: cfg.Harvest.MaxConsecutiveTimeouts,
		MaxTotalTimeouts:       cfg.Harvest.MaxTotalTimeouts,
		Locale:                 cfg.LocaleOrDefault(),
	}, cfg.Harvest.NumProcesses, log, m)
}

// ProvideSymbolCatalog opens the configured symbol catalog.
func ProvideSymbolCatalog(cfg *config.Config, ch *pkgch.Client, log *logger.Logger) (repository.SymbolCatalog, error) {
	switch cfg.Catalog.Backend {
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("clickhouse catalog: no clickhouse client")
		}
		c := internalrepo.NewClickHouseCatalog(ch, cfg.Catalog.Table, log)
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := ch.InitSchema(ctx, c.SchemaStatements()); err != nil {
			return nil, fmt.Errorf("clickhouse catalog schema: %w", err)
		}
		return c, nil
	default:
		c, err := internalrepo.OpenSQLiteCatalog(cfg.Catalog.SQLitePath, cfg.Catalog.Table, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite catalog: %w", err)
		}
		return c, nil
	}
}

// ProvideSeriesStore creates the CSV series store under storage.root.
func ProvideSeriesStore(cfg *config.Config, log *logger.Logger) repository.SeriesStore {
	return internalrepo.NewCSVSeriesStore(cfg.Storage.Root, cfg.Storage.ErrorFile, cfg.Storage.DiffExtension, log)
}

// ProvideOutcomeSink fans outcomes out to Kafka and the ClickHouse ledger, whichever are on.
func ProvideOutcomeSink(cfg *config.Config, producer *pkgkafka.Producer, ch *pkgch.Client) (repository.OutcomeSink, error) {
	var sinks []repository.OutcomeSink
	if cfg.Kafka.Enabled && producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaOutcomeSink(producer, cfg.Kafka.Topic))
	}
	if cfg.Ledger.Enabled && ch != nil {
		ledger := internalrepo.NewClickHouseLedger(ch, cfg.Ledger.Table)
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := ch.InitSchema(ctx, ledger.SchemaStatements()); err != nil {
			return nil, fmt.Errorf("ledger schema: %w", err)
		}
		sinks = append(sinks, ledger)
	}
	return internalrepo.NewMultiSink(sinks...), nil
}

// ProvideBatchArchive returns a Parquet archive, or nil when storage.archive_dir is unset.
func ProvideBatchArchive(cfg *config.Config) repository.BatchArchive {
	if cfg.Storage.ArchiveDir == "" {
		return nil
	}
	return internalrepo.NewParquetArchive(cfg.Storage.ArchiveDir)
}

// ProvideHarvester creates the harvester use case.
func ProvideHarvester(
	cfg *config.Config,
	log *logger.Logger,
	catalog repository.SymbolCatalog,
	store repository.SeriesStore,
	fetcher repository.BarFetcher,
	authProvider repository.AuthProvider,
	sink repository.OutcomeSink,
	archive repository.BatchArchive,
	m repository.Metrics,
) (*usecase.Harvester, error) {
	return usecase.NewHarvester(usecase.HarvesterConfig{
		LimitPerLoad:     cfg.Harvest.LimitPerLoad,
		BatchLimit:       cfg.Harvest.BatchLimit,
		IdleSleep:        cfg.Harvest.IdleSleep,
		LoadSymbolsEvery: cfg.Harvest.Tasks.LoadSymbols,
		GetBarsEvery:     cfg.Harvest.Tasks.GetBars,
		UpdateAuthEvery:  cfg.Harvest.Tasks.UpdateAuth,
		UpdateLoggerCron: cfg.Harvest.Tasks.UpdateLogger,
	}, usecase.HarvesterDeps{
		Catalog: catalog,
		Store:   store,
		Fetcher: fetcher,
		Auth:    authProvider,
		Sink:    sink,
		Archive: archive,
		Metrics: m,
		Rotator: log,
	}, log)
}

// ProvideKafkaConsumer creates the recrawl consumer, or nil when it is disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	pkgkafka.SetMetricsRegisterer(reg)
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(cfg.Kafka.Brokers,
		pkgkafka.WithGroup(cc.GroupID),
		pkgkafka.WithStartOffset(cc.OffsetReset),
		pkgkafka.WithWorkers(cc.Workers, cc.BufferSize),
		pkgkafka.WithRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax),
		pkgkafka.WithDLQ(cc.DLQTopic),
		pkgkafka.WithFetch(cc.MinBytes, cc.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("recrawl consumer: %w", err)
	}
	consumer.SetHook(pkgkafka.NewLoggingHook(log))
	return consumer, nil
}

// ProvideRecrawlHandler binds the recrawl topic to the harvester.
func ProvideRecrawlHandler(cfg *config.Config, h *usecase.Harvester, m repository.Metrics, log *logger.Logger) *usecase.KafkaRecrawlHandler {
	return usecase.NewKafkaRecrawlHandler(cfg.Kafka.Consumer.RecrawlTopic, h, m, log)
}

// ProvideHTTPServer creates the status API server, or nil when server.enabled is false.
func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, h *usecase.Harvester, reg *prometheus.Registry) *pkghttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	handler := api.NewHarvestEchoHandler(log, h, ratelimit.New())
	return pkghttp.NewServer(handler,
		pkghttp.WithAddr(cfg.Server.Host, cfg.Server.Port),
		pkghttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		pkghttp.WithSlowRequest(cfg.Server.SlowRequest),
		pkghttp.WithCORS(cfg.Server.CORS),
		pkghttp.WithLogger(log),
		pkghttp.WithRegistry(reg),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	h *usecase.Harvester,
	catalog repository.SymbolCatalog,
	sink repository.OutcomeSink,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaRecrawlHandler,
	srv *pkghttp.Server,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	svc cache.Store,
) *server.App {
	app := server.New(cfg, log, h, catalog, sink)
	app.SetHTTPServer(srv)
	if consumer != nil {
		app.SetConsumer(consumer, kh)
	}
	app.SetInfra(ch, producer, svc)
	return app
}
