package policy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ansersec/anser/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Repository interface {
	GetAllPolicies(ctx context.Context) ([]domain.StoredPolicy, error)
}

// MemoStore — In-memory cache скомпилированных политик. Долговременное
// хранение — в Postgres, но в рантайме PDP обращается только к памяти.
// Инвалидация — по сигналу из Redis (консоль публикует "refresh" после
// любого изменения политики).
type MemoStore struct {
	mu       sync.RWMutex
	compiled map[string]*CompiledPolicy // "principal|app" -> политика

	repo   Repository // Используется только для Refresh()
	rdb    *redis.Client
	logger *zap.Logger
}

func NewMemoStore(repo Repository, rdb *redis.Client, logger *zap.Logger) *MemoStore {
	return &MemoStore{
		compiled: make(map[string]*CompiledPolicy),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("policy-store"),
	}
}

func cacheKey(principal, app string) string { return principal + "|" + app }

// PolicyFor ищет политику от частного к общему:
// (principal, app) -> (principal, *) -> (*, app) -> (*, *).
func (s *MemoStore) PolicyFor(principalID, app string) (*CompiledPolicy, bool) {
	s.mu.RLock()
	m := s.compiled
	s.mu.RUnlock()

	for _, k := range []string{
		cacheKey(principalID, app),
		cacheKey(principalID, "*"),
		cacheKey("*", app),
		cacheKey("*", "*"),
	} {
		if p, ok := m[k]; ok {
			return p, true
		}
	}
	return nil, false
}

// Refresh выполняет холодную загрузку всех политик из Postgres в память.
// Битые документы не попадают в кэш: недопарсенная политика — это Deny.
func (s *MemoStore) Refresh(ctx context.Context) error {
	stored, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]*CompiledPolicy, len(stored))
	for _, sp := range stored {
		var doc domain.PolicyDocument
		if err := json.Unmarshal(sp.Document, &doc); err != nil {
			s.logger.Error("policy document is not valid JSON, skipping",
				zap.String("policy_id", sp.ID), zap.Error(err))
			continue
		}
		doc.Principal = sp.Principal
		doc.App = sp.App

		compiled, err := Compile(doc)
		if err != nil {
			s.logger.Error("policy document failed to compile, skipping",
				zap.String("policy_id", sp.ID), zap.Error(err))
			continue
		}
		app := sp.App
		if app == "" {
			app = "*"
		}
		fresh[cacheKey(sp.Principal, app)] = compiled
	}

	s.mu.Lock()
	s.compiled = fresh
	s.mu.Unlock()

	s.logger.Info("policy cache refreshed", zap.Int("count", len(fresh)))
	return nil
}

// StartListener подписывается на сигнал обновления политик и перечитывает
// кэш. Цикл живучий: при обрыве соединения переподписывается и делает
// Refresh, чтобы не пропустить сигналы, ушедшие в разрыв.
func (s *MemoStore) StartListener(ctx context.Context, channel string) {
	for {
		pubsub := s.rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			s.logger.Error("failed to subscribe to policy updates", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := s.Refresh(ctx); err != nil {
			s.logger.Error("policy refresh on (re)connect failed", zap.Error(err))
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				if err := s.Refresh(ctx); err != nil {
					s.logger.Error("policy refresh failed", zap.Error(err))
				}
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

// StaticProvider — набор политик, заданный кодом. Используется в тестах и
// во встраиваемом режиме, когда шлюз живет внутри процесса без Postgres.
type StaticProvider struct {
	compiled map[string]*CompiledPolicy
}

func NewStaticProvider(docs ...domain.PolicyDocument) (*StaticProvider, error) {
	m := make(map[string]*CompiledPolicy, len(docs))
	for _, doc := range docs {
		compiled, err := Compile(doc)
		if err != nil {
			return nil, err
		}
		app := doc.App
		if app == "" {
			app = "*"
		}
		principal := doc.Principal
		if principal == "" {
			principal = "*"
		}
		m[cacheKey(principal, app)] = compiled
	}
	return &StaticProvider{compiled: m}, nil
}

func (s *StaticProvider) PolicyFor(principalID, app string) (*CompiledPolicy, bool) {
	for _, k := range []string{
		cacheKey(principalID, app),
		cacheKey(principalID, "*"),
		cacheKey("*", app),
		cacheKey("*", "*"),
	} {
		if p, ok := s.compiled[k]; ok {
			return p, true
		}
	}
	return nil, false
}
