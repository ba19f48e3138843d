// Package cache provides a redis-backed read cache for wallet-by-owner
// lookups. Mutating operations invalidate; reads may serve a slightly stale
// balance, never an inconsistent one.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/models"
)

const DefaultTTL = 5 * time.Minute

type RedisWalletCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewRedisWalletCache(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisWalletCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisWalletCache{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// NewRedisClient configures a redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func walletKey(ownerID int64, ownerType models.OwnerType) string {
	return fmt.Sprintf("wallet:owner:%s:%d", ownerType, ownerID)
}

func (c *RedisWalletCache) GetWallet(ctx context.Context, ownerID int64, ownerType models.OwnerType) (*models.Wallet, error) {
	raw, err := c.client.Get(ctx, walletKey(ownerID, ownerType)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var wallet models.Wallet
	if err := json.Unmarshal(raw, &wallet); err != nil {
		// A corrupt entry is dropped rather than served.
		c.client.Del(ctx, walletKey(ownerID, ownerType))
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &wallet, nil
}

func (c *RedisWalletCache) SetWallet(ctx context.Context, wallet *models.Wallet) error {
	raw, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, walletKey(wallet.OwnerID, wallet.OwnerType), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisWalletCache) InvalidateWallet(ctx context.Context, ownerID int64, ownerType models.OwnerType) error {
	if err := c.client.Del(ctx, walletKey(ownerID, ownerType)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
