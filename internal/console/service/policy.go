package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ansersec/anser/internal/domain"
	"github.com/ansersec/anser/internal/infra"
	"github.com/ansersec/anser/internal/policy"

	"github.com/redis/go-redis/v9"
)

// PolicyRepository описывает требования сервиса к хранилищу политик
type PolicyRepository interface {
	GetPolicyByID(ctx context.Context, id string) (*domain.StoredPolicy, error)
	GetAllPolicies(ctx context.Context) ([]domain.StoredPolicy, error)
	CreatePolicy(ctx context.Context, p *domain.StoredPolicy) error
	UpdatePolicy(ctx context.Context, p *domain.StoredPolicy) error
	DeletePolicy(ctx context.Context, id string) error
}

type PolicyService struct {
	repo PolicyRepository
	rdb  *redis.Client
}

func NewPolicyService(repo PolicyRepository, rdb *redis.Client) *PolicyService {
	return &PolicyService{
		repo: repo,
		rdb:  rdb,
	}
}

func (s *PolicyService) GetByID(ctx context.Context, id string) (*domain.StoredPolicy, error) {
	return s.repo.GetPolicyByID(ctx, id)
}

// GetAll возвращает все политики из БД
func (s *PolicyService) GetAll(ctx context.Context) ([]domain.StoredPolicy, error) {
	return s.repo.GetAllPolicies(ctx)
}

// Create сохраняет политику и уведомляет шлюзы об обновлении.
// Документ прогоняется через компилятор ДО записи: битая политика в БД —
// это дыра (шлюз ее пропустит при загрузке, принципал останется без правил).
func (s *PolicyService) Create(ctx context.Context, p *domain.StoredPolicy) error {
	if err := validateDocument(p); err != nil {
		return err
	}
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// Update обновляет политику и инициирует инвалидацию кэша
func (s *PolicyService) Update(ctx context.Context, p *domain.StoredPolicy) error {
	if err := validateDocument(p); err != nil {
		return err
	}
	if err := s.repo.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// Delete удаляет политику
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// notifyUpdate отправляет широковещательный сигнал в Redis.
// Все инстансы шлюза, подписанные на этот канал, вызовут Refresh() своего MemoStore.
func (s *PolicyService) notifyUpdate(ctx context.Context) error {
	// Сигнал может быть простым "refresh", так как шлюз сам перечитает всю таблицу
	return s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err()
}

func validateDocument(p *domain.StoredPolicy) error {
	var doc domain.PolicyDocument
	if err := json.Unmarshal(p.Document, &doc); err != nil {
		return fmt.Errorf("policy document is not valid JSON: %w", err)
	}
	doc.Principal = p.Principal
	doc.App = p.App
	if _, err := policy.Compile(doc); err != nil {
		return fmt.Errorf("policy document does not compile: %w", err)
	}
	return nil
}
