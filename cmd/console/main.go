package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ansersec/anser/internal/console/handler"
	"github.com/ansersec/anser/internal/console/server"
	"github.com/ansersec/anser/internal/console/service"
	"github.com/ansersec/anser/internal/infra"
	"github.com/ansersec/anser/internal/infra/auth"
	"github.com/ansersec/anser/internal/repository/postgres"

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

	// 2. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	repo, err := postgres.NewRepo(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}
	// Проверяем соединение с таймаутом
	if err := repo.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()

	// 3. Ключи: консоль подписывает токены закрытым ключом,
	// проверяет — открытым (тем же, что раздается шлюзам)
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse private key", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(repo, privKey, cfg.Auth.TokenTTL)
	policyService := service.NewPolicyService(repo, rdb)
	attestationService := service.NewAttestationService(repo, rdb, logger)
	auditService := service.NewAuditService(repo)

	srvHandler := server.NewConsoleServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authService),
		handler.NewPolicyHandler(policyService),
		handler.NewAttestationHandler(attestationService),
		handler.NewAuditHandler(auditService),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("console API started", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
