package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "devit"
)

// Ключи состояния
const (
	// RedisKeyRateWindowPrefix: sorted set меток запросов на каждого агента
	RedisKeyRateWindowPrefix = RedisNamespace + ":guard:rate:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyUpdate: консоль публикует сюда после изменения политик
	RedisChanPolicyUpdate = RedisNamespace + ":agents:policy-update"
)

// RateWindowKey: ключ окна лимита для агента
func RateWindowKey(agentID string) string {
	return RedisKeyRateWindowPrefix + agentID
}
