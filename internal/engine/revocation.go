package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ansersec/anser/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RevocationManager — мгновенный отзыв принципалов (Kill-Switch).
// L1 — локальная мапа (проверка в Hot Path без I/O), L2 — Redis Set
// (общее состояние всех инстансов), сигналы — Pub/Sub.
type RevocationManager struct {
	mu      sync.RWMutex
	revoked map[string]struct{}

	rdb    *redis.Client
	logger *zap.Logger
}

func NewRevocationManager(rdb *redis.Client, logger *zap.Logger) *RevocationManager {
	return &RevocationManager{
		revoked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.Named("revocation"),
	}
}

// Init загружает текущее множество отозванных при старте сервиса.
func (m *RevocationManager) Init(ctx context.Context) error {
	ids, err := m.rdb.SMembers(ctx, infra.RedisKeyRevokedPrincipals).Result()
	if err != nil {
		return err
	}
	m.replaceAll(ids)
	return nil
}

// Warmup заливает отозванных из БД в L1 и, если общий Redis Set пуст, в L2.
// Распределенный лок (SetNX) гарантирует, что Redis греет ровно один инстанс;
// остальные довольствуются L1 и подписью на сигналы.
func (m *RevocationManager) Warmup(ctx context.Context, ids []string) error {
	m.replaceAll(ids)

	lock := infra.GetWarmupLockKey("revoked")
	ok, err := m.rdb.SetNX(ctx, lock, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // либо сеть легла, либо кэш уже греет другой инстанс
	}

	count, err := m.rdb.SCard(ctx, infra.RedisKeyRevokedPrincipals).Result()
	if err != nil {
		count = 0
		m.logger.Warn("could not check revoked set size, proceeding with warm-up", zap.Error(err))
	}
	if count > 0 || len(ids) == 0 {
		return nil
	}

	m.logger.Info("revoked set is empty in Redis, warming up from DB", zap.Int("count", len(ids)))
	pipe := m.rdb.Pipeline()
	for _, id := range ids {
		pipe.SAdd(ctx, infra.RedisKeyRevokedPrincipals, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// IsRevoked — проверка в Hot Path: только RLock, никакого I/O.
func (m *RevocationManager) IsRevoked(principalID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[principalID]
	return ok
}

// StartListener держит живучую подписку на сигналы отзыва: при обрыве
// переподключается, при каждом (пере)подключении делает полную
// ресинхронизацию из Redis — сигналы, ушедшие в разрыв, не теряются.
func (m *RevocationManager) StartListener(ctx context.Context) {
	for {
		pubsub := m.rdb.Subscribe(ctx, infra.RedisChanRevocation)

		if _, err := pubsub.Receive(ctx); err != nil {
			m.logger.Error("failed to subscribe to revocation signals", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := m.Init(ctx); err != nil {
			m.logger.Error("revocation resync failed", zap.Error(err))
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				m.handleSignal(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

// handleSignal применяет сигнал формата "principal_id:on" / "principal_id:off"
// ("true"/"false" принимаются для совместимости с ручными publish из redis-cli).
func (m *RevocationManager) handleSignal(payload string) {
	id, state, found := strings.Cut(payload, ":")
	if !found || id == "" {
		m.logger.Error("invalid revocation signal", zap.String("payload", payload))
		return
	}

	revoked := state == "on" || state == "true"
	m.setState(id, revoked)
	m.logger.Info("revocation signal applied",
		zap.String("principal", id), zap.Bool("revoked", revoked))
}

func (m *RevocationManager) setState(id string, revoked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if revoked {
		m.revoked[id] = struct{}{}
	} else {
		delete(m.revoked, id)
	}
}

func (m *RevocationManager) replaceAll(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	m.mu.Lock()
	m.revoked = next
	m.mu.Unlock()
}
