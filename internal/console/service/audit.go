package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ansersec/anser/internal/audit"
)

// AuditLogProvider описывает контракт для чтения данных журнала решений.
// Мы используем структуру Record из пакета audit, чтобы сохранить единую модель данных.
type AuditLogProvider interface {
	FetchAuditLogs(ctx context.Context, principal string, since time.Time, limit int) ([]audit.Record, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает записи журнала с фильтрацией.
// Логика фильтрации (пустые строки или конкретные ID) инкапсулирована в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, principal string, since time.Time, limit int) ([]audit.Record, error) {
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	logs, err := s.repo.FetchAuditLogs(ctx, principal, since, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
