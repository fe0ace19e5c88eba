package driver

import "time"

// KeyValueDB define a key-value storage interface
type KeyValueDB interface {
	SetEX(key string, value string, expiration time.Duration) error
	Get(key string) (string, error)
	Exists(key string) (bool, error)
	Ping() error
}

// HashDB define hash operations used by durable queues
type HashDB interface {
	HSet(key, field, value string) error
	HDel(key string, fields ...string) error
	HIncrBy(key, field string, incr int64) (int64, error)
	HGetAll(key string) (map[string]string, error)
	Expire(key string, expiration time.Duration) error
}
