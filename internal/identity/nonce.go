package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tasukuchiba/message_board/internal/models"
)

// NonceStore は使用済みnonceを記録し、再送を検出する
type NonceStore interface {
	// Use は nonce を使用済みにする。初回なら true を返す
	Use(ctx context.Context, id models.Identity, nonce string, ttl time.Duration) (bool, error)
}

func nonceKey(id models.Identity, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", id, nonce)
}

// nonceSweepInterval は期限切れnonceをまとめて削除する間隔
const nonceSweepInterval = time.Minute

// MemoryNonceStore はプロセス内でnonceを管理する
type MemoryNonceStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep time.Time
	now       func() time.Time
}

// NewMemoryNonceStore は新しいMemoryNonceStoreを作成する
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryNonceStore) Use(ctx context.Context, id models.Identity, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !now.Before(s.nextSweep) {
		s.sweep(now)
		s.nextSweep = now.Add(nonceSweepInterval)
	}

	key := nonceKey(id, nonce)
	// 掃除前の期限切れエントリは未使用として扱う
	if expires, used := s.seen[key]; used && now.Before(expires) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

// sweep は期限切れのnonceを削除する。呼び出し側がロックを持つこと
func (s *MemoryNonceStore) sweep(now time.Time) {
	for key, expires := range s.seen {
		if !now.Before(expires) {
			delete(s.seen, key)
		}
	}
}

// Len は保持しているnonceの数を返す
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RedisNonceStore はRedisでnonceを管理する。複数プロセスで共有できる
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore は redisURL に接続してRedisNonceStoreを作成する
func NewRedisNonceStore(ctx context.Context, redisURL string) (*RedisNonceStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisNonceStore{client: client}, nil
}

func (s *RedisNonceStore) Use(ctx context.Context, id models.Identity, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, nonceKey(id, nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close はRedis接続を閉じる
func (s *RedisNonceStore) Close() error {
	return s.client.Close()
}
