package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ansersec/anser/internal/attest"
	"github.com/ansersec/anser/internal/domain"
	"github.com/ansersec/anser/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AttestationRepository описывает требования сервиса к хранилищу аттестатов
type AttestationRepository interface {
	GetAttestationByID(ctx context.Context, id string) (*domain.Attestation, error)
	FindAttestations(ctx context.Context, status domain.AttestationStatus) ([]*domain.Attestation, error)
	UpdateStatus(ctx context.Context, id string,
		from, to domain.AttestationStatus,
		resolver, reason string, resolvedAt time.Time) (bool, error)
}

type AttestationService struct {
	repo   AttestationRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAttestationService(repo AttestationRepository, rdb *redis.Client, logger *zap.Logger) *AttestationService {
	return &AttestationService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("attestation-service"),
	}
}

func (s *AttestationService) Get(ctx context.Context, id string) (*domain.Attestation, error) {
	return s.repo.GetAttestationByID(ctx, id)
}

// List — очередь решений. Наружу уходят только записи, решение по которым
// доступно текущему оператору (approval_criteria).
func (s *AttestationService) List(ctx context.Context, status domain.AttestationStatus,
	operator domain.Principal) ([]*domain.Attestation, error) {

	if status == "" {
		status = domain.AttestationPending // Дефолт для удобства админки
	}

	all, err := s.repo.FindAttestations(ctx, status)
	if err != nil {
		return nil, err
	}

	visible := make([]*domain.Attestation, 0, len(all))
	for _, att := range all {
		if operator.SatisfiesCriteria(att.ApprovalCriteria) {
			visible = append(visible, att)
		}
	}
	return visible, nil
}

// Decide фиксирует решение оператора по pending-аттестату.
// Порядок строгий: права оператора -> условный UPDATE в БД (арбитр гонок) ->
// сигнал пробуждения в Redis. Мы передаем resolver для подотчетности (Accountability).
func (s *AttestationService) Decide(ctx context.Context, id string, approved bool,
	resolver domain.Principal, reason string) error {

	att, err := s.repo.GetAttestationByID(ctx, id)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if att == nil {
		return domain.E(domain.KindInvalidState, "attestation %s not found", id)
	}

	// 1. Проверка прав: оператор должен удовлетворять approval_criteria записи
	if !resolver.SatisfiesCriteria(att.ApprovalCriteria) {
		s.logger.Warn("operator lacks approval rights",
			zap.String("attestation_id", id),
			zap.String("operator", resolver.ID),
			zap.String("criteria", att.ApprovalCriteria))
		return domain.E(domain.KindUnauthorized,
			"principal %s does not satisfy %q", resolver.ID, att.ApprovalCriteria)
	}

	status := domain.AttestationDenied
	if approved {
		status = domain.AttestationApproved
	}

	// 2. Атомарно обновляем БД: WHERE status = 'pending' исключает Double Decision
	updated, err := s.repo.UpdateStatus(ctx, id,
		domain.AttestationPending, status, resolver.ID, reason, time.Now())
	if err != nil {
		s.logger.Error("failed to persist decision",
			zap.String("attestation_id", id),
			zap.String("resolver", resolver.ID),
			zap.Error(err))
		return fmt.Errorf("database update failed: %w", err)
	}
	if !updated {
		// Решение по этой записи уже было принято ранее
		return domain.ErrInvalidState
	}

	// 3. Публикуем сигнал "пробуждения" для горутины шлюза
	signal, _ := json.Marshal(attest.DecisionSignal{
		ID:       id,
		Status:   status,
		Resolver: resolver.ID,
		Reason:   reason,
	})
	if err := s.rdb.Publish(ctx, infra.RedisChanDecisions, string(signal)).Err(); err != nil {
		// Если Redis недоступен, горутина на шлюзе завершится по таймауту (Fail-Safe)
		s.logger.Error("critical: decision saved but signal not delivered",
			zap.String("attestation_id", id),
			zap.Error(err))
		return fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("attestation decision processed",
		zap.String("attestation_id", id),
		zap.String("resolver", resolver.ID),
		zap.String("result", string(status)))
	return nil
}
