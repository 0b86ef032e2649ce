package attest

import (
	"context"
	"sync"
	"time"

	"github.com/ansersec/anser/internal/domain"
)

// Store — долговременное хранилище аттестатов. Реестр держит авторитетное
// состояние в памяти, но каждая запись проходит через Store, чтобы консоль
// (отдельный процесс) видела очередь pending-запросов.
type Store interface {
	Insert(ctx context.Context, att domain.Attestation) error

	// UpdateStatus — условный переход from -> to. Возвращает false, если
	// запись уже не в статусе from (проигранная гонка за решение).
	UpdateStatus(ctx context.Context, id string,
		from, to domain.AttestationStatus,
		resolver, reason string, resolvedAt time.Time) (bool, error)
}

// MemoryStore — хранилище для тестов и встраиваемого режима без Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]domain.Attestation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]domain.Attestation)}
}

func (s *MemoryStore) Insert(_ context.Context, att domain.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[att.ID] = att
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string,
	from, to domain.AttestationStatus,
	resolver, reason string, resolvedAt time.Time) (bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	rec.ResolverPrincipal = resolver
	rec.Reason = reason
	if rec.ResolvedAt == nil {
		t := resolvedAt
		rec.ResolvedAt = &t
	}
	s.recs[id] = rec
	return true, nil
}

// Get — только для тестов: подсмотреть, что реально легло в хранилище.
func (s *MemoryStore) Get(id string) (domain.Attestation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	return rec, ok
}
