package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig            RedisStorageConfig
	HttpPort               int
	StorageType            StorageType
	ActionExecutorCapacity int
	TimerTickSeconds       int
	RetryMaxAttempts       int
	RetryAfterSeconds      int
	RetryPolicy            string
	Debug                  bool
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}
