package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "governor"
)

// Ключи KeyValueStore
const (
	RedisKeyKVPrefix      = RedisNamespace + ":kv:"
	RedisKeyKVCategorySet = RedisNamespace + ":kv-category:"
	RedisKeyRuntimeConfig = "runtime-config:"
	RedisKeyDatasetPrefix = "dataset:"
	RedisKeyPersonaPrefix = "persona:"
	RedisKeyLastKnownGood = ":lkg"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPermissionUpdate — изменение прав пользователя; инстансы перечитывают его набор.
	RedisChanPermissionUpdate = RedisNamespace + ":permissions:update"
	// RedisChanAgentRestart — сигнал перезапуска агента для рантайма.
	RedisChanAgentRestart = RedisNamespace + ":agents:restart-signal"
)

// KVKey полный ключ значения в Redis
func KVKey(key string) string {
	return RedisKeyKVPrefix + key
}

// KVCategoryKey ключ множества, индексирующего ключи категории
func KVCategoryKey(category string) string {
	return fmt.Sprintf("%s%s", RedisKeyKVCategorySet, category)
}
