package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "anser"
)

// Ключи для Sets (состояние)
const (
	RedisKeyRevokedPrincipals = RedisNamespace + ":principals:revoked_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanDecisions — канал решений операторов по аттестатам.
	// Консоль публикует DecisionSignal, шлюз будит ждущие вызовы.
	RedisChanDecisions = RedisNamespace + ":attest:decisions"

	// RedisChanRevocation — мгновенный отзыв принципала ("id:on"/"id:off")
	RedisChanRevocation = RedisNamespace + ":principals:revocation-signal"

	// RedisChanPolicyUpdate — сигнал перечитать политики из БД
	RedisChanPolicyUpdate = RedisNamespace + ":policies:update"
)

// GetWarmupLockKey — генератор ключей для распределенных блокировок прогрева
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
