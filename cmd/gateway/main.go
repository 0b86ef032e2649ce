package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansersec/anser/internal/attest"
	"github.com/ansersec/anser/internal/audit"
	"github.com/ansersec/anser/internal/connectors"
	"github.com/ansersec/anser/internal/engine"
	"github.com/ansersec/anser/internal/infra"
	"github.com/ansersec/anser/internal/infra/auth"
	"github.com/ansersec/anser/internal/policy"
	"github.com/ansersec/anser/internal/repository/postgres"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При завершении main() или срабатывании SIGTERM, cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.NewRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Политики: холодная загрузка + живая инвалидация по сигналу консоли
	policyStore := policy.NewMemoStore(repo, rdb, logger)
	if err := policyStore.Refresh(appCtx); err != nil {
		logger.Fatal("failed to load policies", zap.Error(err))
	}
	go policyStore.StartListener(appCtx, infra.RedisChanPolicyUpdate)

	pdp := policy.NewPDP(policyStore, logger)

	// 4. Реестр аттестатов + слушатель решений консоли
	registry := attest.NewRegistry(repo, logger)
	go registry.StartJanitor(appCtx, cfg.Gateway.AttestationJanitorInterval)
	go attest.NewDecisionListener(registry, rdb, infra.RedisChanDecisions, logger).Start(appCtx)

	// 5. Control Plane: отзыв принципалов (L1 RAM + L2 Redis + Pub/Sub)
	revocation := engine.NewRevocationManager(rdb, logger)
	if revoked, err := repo.GetRevokedPrincipals(appCtx); err != nil {
		logger.Warn("failed to load revoked principals from DB, relying on Redis", zap.Error(err))
		if err := revocation.Init(appCtx); err != nil {
			logger.Fatal("failed to init revocation manager", zap.Error(err))
		}
	} else if err := revocation.Warmup(appCtx, revoked); err != nil {
		logger.Warn("revocation warm-up failed", zap.Error(err))
	}
	go revocation.StartListener(appCtx)

	// 6. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 7. Журнал решений: подписант + батчинг-воркер
	signer, err := buildSigner(cfg.Gateway.AuditSigningKeyPath, logger)
	if err != nil {
		logger.Fatal("failed to init audit signer", zap.Error(err))
	}
	sink := audit.NewSink(repo, signer,
		cfg.Gateway.AuditBufferSize, cfg.Gateway.AuditBatchSize,
		cfg.Gateway.AuditFlushInterval, logger)
	sink.MonitorBuffer(metrics.AuditBufferFill)
	sink.Start()

	// 8. Execution Layer (Исполнение + Надежность)
	var executor engine.ExecutionProvider
	if url := os.Getenv("CONNECTOR_URL"); url != "" {
		executor = connectors.NewHTTPAdapter(url)
	} else {
		logger.Warn("CONNECTOR_URL not set, using mock connector")
		executor = &connectors.MockSystemsConnector{}
	}
	// Оборачиваем в Reliability (Retries, Circuit Breaker, Rate Limit)
	safeExecutor := engine.NewReliabilityWrapper(executor, cfg.Gateway, metrics)

	// 9. Ядро шлюза
	core := engine.NewCore(pdp, registry, revocation, safeExecutor, sink,
		metrics, cfg.Gateway.DefaultAttestationTimeout, logger)

	// 10. HTTP поверхность Data Plane
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(validator, logger))
		r.Mount("/v1", engine.NewHandler(core).Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Метрики — на отдельном порту, чтобы не светить их наружу
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	go func() {
		logger.Info("metrics endpoint started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// 11. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway...")
	cancel() // останавливаем фоновых слушателей

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	// Последним гасим sink: он должен дописать всё, что успели сгенерить хендлеры
	sink.Stop()
	logger.Info("gateway stopped")
}

// buildSigner: ключ из файла (hex-seed ed25519) или эфемерный для разработки.
func buildSigner(path string, logger *zap.Logger) (audit.Signer, error) {
	if path == "" {
		logger.Warn("audit signing key not configured, using ephemeral key")
		return audit.GenerateSigner()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return audit.NewSignerFromSeedHex(string(raw))
}
