package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	"github.com/mamadbah2/wagonmaint/internal/events"
	"github.com/mamadbah2/wagonmaint/internal/events/kafka"
	"github.com/mamadbah2/wagonmaint/internal/platform/observability"
	"github.com/mamadbah2/wagonmaint/internal/repository/memory"
	"github.com/mamadbah2/wagonmaint/internal/repository/mongodb"
	redisrepo "github.com/mamadbah2/wagonmaint/internal/repository/redis"
	"github.com/mamadbah2/wagonmaint/internal/repository/sheets"
	"github.com/mamadbah2/wagonmaint/internal/scheduler"
	"github.com/mamadbah2/wagonmaint/internal/server/handlers"
	"github.com/mamadbah2/wagonmaint/internal/server/router"
	notificationsvc "github.com/mamadbah2/wagonmaint/internal/service/notifications"
	quotesvc "github.com/mamadbah2/wagonmaint/internal/service/quotes"
	reportingsvc "github.com/mamadbah2/wagonmaint/internal/service/reporting"
	"github.com/mamadbah2/wagonmaint/pkg/clients/erp"
	"github.com/mamadbah2/wagonmaint/pkg/logger"
)

const (
	connectTimeout  = 15 * time.Second
	shutdownTimeout = 15 * time.Second
)

type ledgerStore interface {
	quotesvc.Ledger
	quotesvc.PartWriter
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(config.ServiceName, cfg.Server.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	// Amounts leave the API as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracingSDK(ctx, cfg.Telemetry)
	if err != nil {
		baseLogger.Warn("tracing setup incomplete", zap.Error(err))
	}

	var (
		ledger      ledgerStore
		quoteStore  quotesvc.Store
		records     notificationsvc.RecordStore
		templates   notificationsvc.TemplateStore
		reportStore reportingsvc.ReportStore
		mongoRepo   *mongodb.Repository
	)
	if cfg.MongoDB.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		mongoRepo, err = mongodb.NewRepository(connectCtx, cfg.MongoDB.URI, cfg.MongoDB.DBName, baseLogger.Named("repo.mongodb"))
		cancel()
		if err != nil {
			baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
		}
		ledger = mongoRepo.Ledger()
		quoteStore = mongoRepo.Quotes()
		records = mongoRepo.Notifications()
		templates = mongoRepo.Templates()
		reportStore = mongoRepo
		baseLogger.Info("mongodb persistence enabled", zap.String("db", cfg.MongoDB.DBName))
	} else {
		ledger = memory.NewLedger()
		quoteStore = memory.NewQuoteStore()
		records = memory.NewNotificationStore()
		templates = memory.NewTemplateStore()
		baseLogger.Warn("MONGODB_URI missing, using in-memory repositories")
	}

	if cfg.Pricing.CatalogSeedPath != "" {
		if err := quotesvc.SeedCatalog(ctx, cfg.Pricing.CatalogSeedPath, ledger, baseLogger.Named("catalog")); err != nil {
			baseLogger.Fatal("failed to seed catalog", zap.Error(err))
		}
	}
	if err := notificationsvc.SeedTemplates(ctx, templates, baseLogger.Named("templates")); err != nil {
		baseLogger.Fatal("failed to seed notification templates", zap.Error(err))
	}

	var (
		locker      quotesvc.Locker
		redisLocker *redisrepo.Locker
	)
	if cfg.Redis.Enabled() {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		redisLocker, err = redisrepo.NewLocker(connectCtx, cfg.Redis, baseLogger.Named("repo.redis"))
		cancel()
		if err != nil {
			baseLogger.Fatal("failed to init redis locker", zap.Error(err))
		}
		locker = redisLocker
	} else {
		baseLogger.Info("REDIS_ADDR missing, quote locks are process-local")
	}

	dispatcher := notificationsvc.NewDispatcher(records, templates, erp.NewClient(cfg.ERP), cfg.Dispatcher, baseLogger.Named("svc.notifications"))

	transport := newTransport(cfg, dispatcher, baseLogger)

	quoteSvc := quotesvc.NewService(ledger, quoteStore, transport.publisher, locker, cfg.Pricing, baseLogger.Named("svc.quotes"))

	if err := dispatcher.Start(ctx); err != nil {
		baseLogger.Fatal("failed to start notification dispatcher", zap.Error(err))
	}

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	defer stopConsuming()
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		if err := transport.consume(consumeCtx); err != nil {
			baseLogger.Error("event consumer stopped", zap.Error(err))
		}
	}()

	var sheet sheets.Repository
	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(ctx, cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		sheet = sheetsRepo
	}

	loc, err := time.LoadLocation(cfg.Reporting.Timezone)
	if err != nil {
		baseLogger.Fatal("invalid timezone", zap.Error(err))
	}
	reportingSvc := reportingsvc.NewService(dispatcher, reportStore, sheet, loc, baseLogger.Named("svc.reporting"))

	sched, err := scheduler.NewScheduler(*cfg, dispatcher, reportingSvc, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}

	engine := router.New(router.Handlers{
		Stock:         handlers.NewStockHandler(quoteSvc, baseLogger.Named("handlers.stock")),
		Devis:         handlers.NewDevisHandler(quoteSvc, baseLogger.Named("handlers.devis")),
		Notifications: handlers.NewNotificationHandler(dispatcher, baseLogger.Named("handlers.notifications")),
	}, baseLogger.Named("router"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(engine, config.ServiceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}

	sched.Stop(shutdownCtx)

	transport.drain(shutdownCtx, stopConsuming, consumed)

	if err := dispatcher.Stop(shutdownCtx); err != nil {
		baseLogger.Error("notification dispatcher did not stop cleanly", zap.Error(err))
	}

	if redisLocker != nil {
		if err := redisLocker.Close(); err != nil {
			baseLogger.Error("failed to close redis connection", zap.Error(err))
		}
	}
	if mongoRepo != nil {
		if err := mongoRepo.Close(shutdownCtx); err != nil {
			baseLogger.Error("failed to close mongodb connection", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		baseLogger.Error("failed to flush traces", zap.Error(err))
	}
}

// transport carries domain events from the quote service to the dispatcher,
// through Kafka when brokers are configured and an in-process bus otherwise.
type transport struct {
	publisher quotesvc.Publisher
	consume   func(ctx context.Context) error
	// closeIntake stops accepting events before the consumer drains.
	closeIntake func() error
	closeAfter  func() error
	broker      bool
	logger      *zap.Logger
}

func newTransport(cfg *config.Config, dispatcher *notificationsvc.Dispatcher, baseLogger *zap.Logger) transport {
	if cfg.Kafka.Enabled() {
		producer := kafka.NewPublisher(cfg.Kafka, baseLogger.Named("kafka.publisher"))
		consumer := kafka.NewConsumer(cfg.Kafka, models.AllEventTypes, dispatcher.HandleEvent, baseLogger.Named("kafka.consumer"))
		baseLogger.Info("kafka transport enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
		return transport{
			publisher:   producer,
			consume:     consumer.Run,
			closeIntake: producer.Close,
			closeAfter:  consumer.Close,
			broker:      true,
			logger:      baseLogger,
		}
	}

	bus := events.NewBus(cfg.Dispatcher.QueueSize, baseLogger.Named("events.bus"))
	baseLogger.Warn("KAFKA_BOOTSTRAP_SERVERS missing, events stay in-process")
	return transport{
		publisher:   bus,
		consume:     func(ctx context.Context) error { return bus.Run(ctx, dispatcher.HandleEvent) },
		closeIntake: bus.Close,
		closeAfter:  func() error { return nil },
		logger:      baseLogger,
	}
}

// drain stops the intake and waits for the consumer. The bus consumer drains
// buffered events; the Kafka consumer stops at once since uncommitted
// messages are redelivered.
func (t transport) drain(ctx context.Context, stopConsuming context.CancelFunc, consumed <-chan struct{}) {
	if err := t.closeIntake(); err != nil {
		t.logger.Error("failed to close event publisher", zap.Error(err))
	}
	if t.broker {
		stopConsuming()
	}
	select {
	case <-consumed:
	case <-ctx.Done():
		stopConsuming()
		<-consumed
	}
	if err := t.closeAfter(); err != nil {
		t.logger.Error("failed to close event consumer", zap.Error(err))
	}
}
