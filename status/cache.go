package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gomodule/redigo/redis"

	"github.com/omni/htlc-bridge/config"
)

// Cache keeps merged views for a short time. Get returns nil without error on a miss.
type Cache interface {
	Get(ctx context.Context, transferID common.Hash) (*View, error)
	Set(ctx context.Context, view *View) error
}

type noopCache struct{}

func NewNoopCache() Cache {
	return noopCache{}
}

func (noopCache) Get(context.Context, common.Hash) (*View, error) {
	return nil, nil
}

func (noopCache) Set(context.Context, *View) error {
	return nil
}

type redisCache struct {
	pool *redis.Pool
	ttl  time.Duration
}

func timeoutDialOptions(db int) []redis.DialOption {
	return []redis.DialOption{
		redis.DialDatabase(db),
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func NewRedisPool(cfg *config.RedisConfig) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", cfg.Addr, timeoutDialOptions(cfg.DB)...)
		},
	}
}

func NewRedisCache(pool *redis.Pool, ttl time.Duration) Cache {
	return &redisCache{
		pool: pool,
		ttl:  ttl,
	}
}

func cacheKey(transferID common.Hash) string {
	return fmt.Sprintf("bridge:status:%s", transferID.Hex())
}

func (c *redisCache) Get(ctx context.Context, transferID common.Hash) (*View, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't get redis connection: %w", err)
	}
	defer conn.Close()

	blob, err := redis.Bytes(conn.Do("GET", cacheKey(transferID)))
	if errors.Is(err, redis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't read cached status: %w", err)
	}
	view := new(View)
	if err = json.Unmarshal(blob, view); err != nil {
		return nil, fmt.Errorf("can't decode cached status: %w", err)
	}
	return view, nil
}

func (c *redisCache) Set(ctx context.Context, view *View) error {
	blob, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("can't encode status: %w", err)
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("can't get redis connection: %w", err)
	}
	defer conn.Close()

	ttl := int(c.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	if _, err = conn.Do("SET", cacheKey(view.TransferID), blob, "EX", ttl); err != nil {
		return fmt.Errorf("can't cache status: %w", err)
	}
	return nil
}
