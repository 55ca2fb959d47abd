package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/i474232898/netatmo-collector/internal/driver"
)

const (
	// LatestKey holds the JSON of the newest packet.
	LatestKey = "netatmo:packet:latest"

	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

type setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis keeps the newest packet under LatestKey with a TTL, so readers can
// tell a stalled collector from a live one.
type Redis struct {
	client *redis.Client
	kv     setter
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to addr and validates the connection with PING.
func NewRedis(addr, password string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, kv: client, ttl: ttl, logger: logger.Named("redis")}, nil
}

func (r *Redis) Write(ctx context.Context, pkt driver.Packet) error {
	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("redis: marshal packet: %w", err)
	}
	if err := r.kv.Set(ctx, LatestKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", LatestKey, err)
	}
	return nil
}

func (r *Redis) Close() {
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.Warn("close failed", zap.Error(err))
		}
	}
}
