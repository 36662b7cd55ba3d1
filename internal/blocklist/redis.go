package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wardstone/wardstone/internal/breaker"
	"github.com/wardstone/wardstone/internal/config"
)

// wireEvent is the pub/sub payload exchanged between sibling proxies.
// Origin lets a proxy skip its own messages.
type wireEvent struct {
	Action string `json:"action"`
	Origin string `json:"origin"`
	Entry  Entry  `json:"entry"`
}

// RedisMirror keeps blocked addresses in Redis with matching TTLs and
// publishes block events so sibling proxies converge on one blocklist.
// All calls run under a circuit breaker; with Redis down the mirror fails
// fast and the local table stays authoritative.
type RedisMirror struct {
	log     zerolog.Logger
	rdb     *redis.Client
	brk     *breaker.Breaker
	prefix  string
	channel string
	origin  string
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(cfg config.RedisConfig, log zerolog.Logger) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", cfg.Addr, err)
	}

	log = log.With().Str("component", "redis-mirror").Logger()
	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("redis connected")

	return &RedisMirror{
		log:     log,
		rdb:     rdb,
		brk:     breaker.New(breaker.MirrorConfig()),
		prefix:  cfg.KeyPrefix,
		channel: cfg.PublishChannel,
		origin:  uuid.NewString(),
	}, nil
}

// Name implements Mirror.
func (m *RedisMirror) Name() string { return "redis" }

// Block implements Mirror. The key carries the remaining TTL so Redis
// expires it in step with the local table.
func (m *RedisMirror) Block(ctx context.Context, e Entry) error {
	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(wireEvent{Action: "block", Origin: m.origin, Entry: e})
	if err != nil {
		return fmt.Errorf("marshal block event: %w", err)
	}

	return m.brk.Run(func() error {
		if err := m.rdb.Set(ctx, m.prefix+e.IP, payload, ttl).Err(); err != nil {
			return fmt.Errorf("set %s: %w", e.IP, err)
		}
		if err := m.rdb.Publish(ctx, m.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish block %s: %w", e.IP, err)
		}
		return nil
	})
}

// Unblock implements Mirror.
func (m *RedisMirror) Unblock(ctx context.Context, ip string) error {
	payload, err := json.Marshal(wireEvent{Action: "unblock", Origin: m.origin, Entry: Entry{IP: ip}})
	if err != nil {
		return fmt.Errorf("marshal unblock event: %w", err)
	}

	return m.brk.Run(func() error {
		if err := m.rdb.Del(ctx, m.prefix+ip).Err(); err != nil {
			return fmt.Errorf("del %s: %w", ip, err)
		}
		if err := m.rdb.Publish(ctx, m.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish unblock %s: %w", ip, err)
		}
		return nil
	})
}

// Listen subscribes to the block-event channel and invokes apply for
// every event published by a sibling proxy. Messages with this proxy's
// origin are skipped. Returns an unsubscribe function.
func (m *RedisMirror) Listen(ctx context.Context, apply func(action string, e Entry)) (func(), error) {
	sub := m.rdb.Subscribe(ctx, m.channel)

	// Wait for subscription confirmation before reporting success.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", m.channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				m.log.Warn().Err(err).Msg("bad block event payload")
				continue
			}
			if ev.Origin == m.origin {
				continue
			}
			apply(ev.Action, ev.Entry)
		}
	}()

	return func() { sub.Close() }, nil
}

// Close implements Mirror.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
