package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/gateway"
	"github.com/vladislavdragonenkov/quickshop/internal/gateway/midtrans"
	healthcheck "github.com/vladislavdragonenkov/quickshop/internal/health"
	"github.com/vladislavdragonenkov/quickshop/internal/httpapi"
	"github.com/vladislavdragonenkov/quickshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/quickshop/internal/metrics"
	"github.com/vladislavdragonenkov/quickshop/internal/service/cancellation"
	"github.com/vladislavdragonenkov/quickshop/internal/service/catalog"
	"github.com/vladislavdragonenkov/quickshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/quickshop/internal/service/events"
	"github.com/vladislavdragonenkov/quickshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/quickshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/quickshop/internal/service/payment"
	"github.com/vladislavdragonenkov/quickshop/internal/version"
)

const stubRedirectBase = "http://localhost:8080/pay"

// application держит собранный процесс витрины с хранилищами, сервисами и фоновыми воркерами.
type application struct {
	cfg    Config
	logger *log.Entry

	repos    *repositories
	producer *kafka.Producer

	health  *healthcheck.Handler
	handler http.Handler

	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (*application, error) {
	repos, err := initRepositories(ctx, cfg.Storage, logger.WithField("layer", "storage"))
	if err != nil {
		return nil, err
	}

	paymentGateway, err := newPaymentGateway(cfg.Gateway, logger)
	if err != nil {
		repos.close(logger)
		return nil, err
	}

	shopMetrics := metrics.NewShopMetrics()
	recorder := events.NewRecorder(repos.outbox, repos.timeline, shopMetrics, logger.WithField("component", "events"))

	catalogSvc := catalog.NewService(repos.products, repos.categories, logger.WithField("component", "catalog"))
	checkoutSvc := checkout.NewService(repos.orders, repos.products, repos.carts, paymentGateway,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(shopMetrics),
		checkout.WithRecorder(recorder),
		checkout.WithPricing(cfg.Pricing),
	)
	processor := payment.NewProcessor(repos.orders, repos.products, repos.paymentLogs, cfg.Gateway.ServerKey,
		payment.WithLogger(logger.WithField("component", "payment-processor")),
		payment.WithMetrics(shopMetrics),
		payment.WithRecorder(recorder),
	)
	cancellations := cancellation.NewService(repos.orders, repos.cancellations,
		cancellation.WithLogger(logger.WithField("component", "cancellation")),
		cancellation.WithMetrics(shopMetrics),
		cancellation.WithRecorder(recorder),
	)

	auth, err := httpapi.NewAuthenticator(cfg.Auth.Secret, repos.profiles, logger.WithField("component", "auth"))
	if err != nil {
		repos.close(logger)
		return nil, err
	}

	health := healthcheck.NewHandler(version.GetVersion())
	if repos.store != nil {
		health.RegisterChecker("postgres", healthcheck.NewDatabaseChecker(repos.store))
	}
	health.RegisterChecker("outbox", healthcheck.NewOutboxChecker(repos.outbox, cfg.Outbox.MaxPending, cfg.Outbox.MaxAge))

	server, err := httpapi.NewServer(httpapi.Deps{
		Catalog:        catalogSvc,
		Checkout:       checkoutSvc,
		Payments:       processor,
		Cancellations:  cancellations,
		Orders:         repos.orders,
		Carts:          repos.carts,
		Timeline:       repos.timeline,
		Idempotency:    repos.idempotency,
		Auth:           auth,
		Health:         health,
		Metrics:        shopMetrics,
		Logger:         logger.WithField("layer", "http"),
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})
	if err != nil {
		repos.close(logger)
		return nil, err
	}

	a := &application{
		cfg:     cfg,
		logger:  logger,
		repos:   repos,
		health:  health,
		handler: server.Routes(),
		cleanupWorker: idempotency.NewCleanupWorker(repos.idempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanup.Interval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanup.BatchSize),
		),
	}

	a.producer = initKafkaProducer(cfg.Kafka, logger.WithField("layer", "kafka"))
	if a.producer != nil {
		a.outboxWorker = outbox.NewWorker(repos.outbox, kafka.NewOutboxPublisher(a.producer, cfg.Kafka.Topic),
			outbox.Config{
				PollInterval:  cfg.Outbox.PollInterval,
				BatchSize:     cfg.Outbox.BatchSize,
				MaxAttempts:   cfg.Outbox.MaxAttempts,
				RetryDelay:    cfg.Outbox.RetryDelay,
				MaxRetryDelay: cfg.Outbox.MaxRetryDelay,
				Lease:         cfg.Outbox.Lease,
			},
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(shopMetrics),
			outbox.WithDeadLetters(kafka.NewOutboxPublisher(a.producer, cfg.Kafka.DLQTopic)),
		)
	}

	return a, nil
}

// newPaymentGateway выбирает между Midtrans и локальной заглушкой.
func newPaymentGateway(cfg GatewayConfig, logger *log.Entry) (domain.PaymentGateway, error) {
	if cfg.Stub {
		logger.Warn("payment gateway stub is enabled, tokens are not real")
		return payment.NewStubGateway(stubRedirectBase), nil
	}
	client, err := midtrans.NewClient(midtrans.Config{
		ServerKey:  cfg.ServerKey,
		Production: cfg.Production,
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
	}, nil, logger.WithField("component", "midtrans"))
	if err != nil {
		return nil, fmt.Errorf("init midtrans client: %w", err)
	}
	if cfg.BreakerFailures == 0 {
		return client, nil
	}
	return gateway.NewCircuitBreaker(client, gateway.BreakerConfig{
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerReset,
	}, logger.WithField("component", "gateway-breaker")), nil
}

// startWorkers запускает фоновые воркеры и возвращает WaitGroup для ожидания их остановки.
func (a *application) startWorkers(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	if a.outboxWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.outboxWorker.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.cleanupWorker.Run(ctx)
	}()
	return &wg
}

func (a *application) close() {
	closeKafka(a.producer, a.logger)
	a.repos.close(a.logger)
}

// Run поднимает API, служебный порт и воркеры; возвращается после отмены ctx или падения API.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workers := a.startWorkers(workerCtx)

	metricsSrv := startMetricsServer(ctx, cfg.Metrics.Addr, logger, a.health)

	lis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, logger, cfg.HTTP.ShutdownTimeout)
		return err
	}

	apiSrv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger, cfg.HTTP.ShutdownTimeout)
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	stopWorkers()
	workers.Wait()
	shutdownHTTP(metricsSrv, logger, cfg.HTTP.ShutdownTimeout)
	return runErr
}

// startMetricsServer запускает служебный HTTP-сервер: /metrics, /healthz, /livez и /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, health *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: metricsMux(health), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger, 0)
	}()

	return srv
}

func metricsMux(health *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	return mux
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry, timeout time.Duration) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
