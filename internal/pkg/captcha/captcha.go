package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "captcha_"

// ErrCodeExpired 表示验证码不存在或已过期。
var ErrCodeExpired = errors.New("verification code expired or missing")

// Store 基于 redis 存放短时效的邮箱验证码。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore 创建验证码存储，ttl 传 0 时默认 5 分钟。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Set 写入某个邮箱地址的验证码，覆盖旧值并重置 TTL。
func (s *Store) Set(ctx context.Context, address, code string) error {
	if err := s.rdb.Set(ctx, keyPrefix+address, code, s.ttl).Err(); err != nil {
		return fmt.Errorf("captcha set: %w", err)
	}
	return nil
}

// Get 读取某个邮箱地址的验证码。不存在或已过期返回 ErrCodeExpired。
func (s *Store) Get(ctx context.Context, address string) (string, error) {
	code, err := s.rdb.Get(ctx, keyPrefix+address).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeExpired
	}
	if err != nil {
		return "", fmt.Errorf("captcha get: %w", err)
	}
	return code, nil
}

// Del 删除验证码，验证通过后调用，保证一码一用。
func (s *Store) Del(ctx context.Context, address string) error {
	if err := s.rdb.Del(ctx, keyPrefix+address).Err(); err != nil {
		return fmt.Errorf("captcha del: %w", err)
	}
	return nil
}
