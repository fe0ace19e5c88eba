package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ctx = context.Background()

// RedisClient .
type RedisClient struct {
	conn *redis.Client
}

var (
	_ KeyValueDB = &RedisClient{}
	_ HashDB     = &RedisClient{}
)

// NewRedisClient create a redis client
func NewRedisClient(host string, port int, password string) *RedisClient {
	conn := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
	})
	return &RedisClient{
		conn: conn,
	}
}

// SetEX implement KeyValueDB
func (rdb *RedisClient) SetEX(key string, value string, expiration time.Duration) error {
	return rdb.conn.Set(ctx, key, value, expiration).Err()
}

// Get implement KeyValueDB
func (rdb *RedisClient) Get(key string) (string, error) {
	cmd := rdb.conn.Get(ctx, key)
	return cmd.Result()
}

// Exists implement KeyValueDB
func (rdb *RedisClient) Exists(key string) (bool, error) {
	n, err := rdb.conn.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping implement KeyValueDB
func (rdb *RedisClient) Ping() error {
	return rdb.conn.Ping(ctx).Err()
}

// HSet implement HashDB
func (rdb *RedisClient) HSet(key, field, value string) error {
	return rdb.conn.HSet(ctx, key, field, value).Err()
}

// HDel implement HashDB
func (rdb *RedisClient) HDel(key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return rdb.conn.HDel(ctx, key, fields...).Err()
}

// HIncrBy implement HashDB
func (rdb *RedisClient) HIncrBy(key, field string, incr int64) (int64, error) {
	return rdb.conn.HIncrBy(ctx, key, field, incr).Result()
}

// HGetAll implement HashDB
func (rdb *RedisClient) HGetAll(key string) (map[string]string, error) {
	return rdb.conn.HGetAll(ctx, key).Result()
}

// Expire implement HashDB
func (rdb *RedisClient) Expire(key string, expiration time.Duration) error {
	return rdb.conn.Expire(ctx, key, expiration).Err()
}

// Close release the connection pool
func (rdb *RedisClient) Close() error {
	return rdb.conn.Close()
}
