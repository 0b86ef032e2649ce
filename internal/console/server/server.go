package server

import (
	"net/http"

	"github.com/ansersec/anser/internal/console/handler"
	"github.com/ansersec/anser/internal/infra"
	"github.com/ansersec/anser/internal/infra/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler        *handler.AuthHandler        // /auth/token
	policyHandler      *handler.PolicyHandler      // /v1/policies
	attestationHandler *handler.AttestationHandler // /v1/attestations (HITL)
	auditHandler       *handler.AuditHandler       // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	policyH *handler.PolicyHandler,
	attestationH *handler.AttestationHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:             chi.NewRouter(),
		logger:             logger.Named("console-api"),
		cfg:                cfg,
		authValidator:      validator,
		authHandler:        authH,
		policyHandler:      policyH,
		attestationHandler: attestationH,
		auditHandler:       auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Опционально: Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Управление Политиками (Policy Engine)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/", s.policyHandler.List)    // Все активные политики
			r.Post("/", s.policyHandler.Create) // Создание новой (например, Wildcard '*')
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.policyHandler.Get)       // Детали политики
				r.Put("/", s.policyHandler.Update)    // Редактирование документа
				r.Delete("/", s.policyHandler.Delete) // Удаление
			})
		})

		// Human-in-the-loop (Attestations)
		r.Route("/v1/attestations", func(r chi.Router) {
			r.Get("/", s.attestationHandler.List) // Очередь запросов на решение
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.attestationHandler.GetDetails)
				r.Post("/decide", s.attestationHandler.Decide) // Approve/Deny + Redis Publish
			})
		})

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
