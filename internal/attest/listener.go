package attest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ansersec/anser/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DecisionSignal — сообщение из канала решений. Консоль публикует его после
// того, как решение проверено (права резолвера) и записано в Postgres.
type DecisionSignal struct {
	ID       string                   `json:"id"`
	Status   domain.AttestationStatus `json:"status"` // approved | denied
	Resolver string                   `json:"resolver"`
	Reason   string                   `json:"reason,omitempty"`
}

// DecisionListener доставляет решения операторов из консоли в локальный
// реестр шлюза: именно он будит горутины, зависшие в AwaitResolution.
type DecisionListener struct {
	registry *Registry
	rdb      *redis.Client
	channel  string
	logger   *zap.Logger
}

func NewDecisionListener(registry *Registry, rdb *redis.Client, channel string, logger *zap.Logger) *DecisionListener {
	return &DecisionListener{
		registry: registry,
		rdb:      rdb,
		channel:  channel,
		logger:   logger.Named("decision-listener"),
	}
}

// Start — живучий цикл подписки: при обрыве переподключается.
// Если Redis недоступен, ждущие вызовы завершатся по таймауту (Fail-Safe).
func (l *DecisionListener) Start(ctx context.Context) {
	for {
		pubsub := l.rdb.Subscribe(ctx, l.channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			l.logger.Error("failed to subscribe to decisions", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
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
				l.handle(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

func (l *DecisionListener) handle(payload string) {
	var sig DecisionSignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		l.logger.Error("invalid decision signal", zap.String("payload", payload), zap.Error(err))
		return
	}

	err := l.registry.ApplyDecision(sig.ID, sig.Status, sig.Resolver, sig.Reason)
	switch {
	case err == nil:
		l.logger.Info("operator decision applied",
			zap.String("id", sig.ID), zap.String("status", string(sig.Status)))
	case errors.Is(err, domain.ErrInvalidState):
		// Нормальная гонка: решение уже принято локально или запись не наша
		l.logger.Debug("decision signal ignored", zap.String("id", sig.ID), zap.Error(err))
	default:
		l.logger.Error("failed to apply decision", zap.String("id", sig.ID), zap.Error(err))
	}
}
