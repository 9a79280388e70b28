package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBus carries snapshots across processes, one channel per message.
type RedisBus struct {
	rdb    *goredis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBus connects to addr and verifies the connection
func NewRedisBus(ctx context.Context, addr, prefix string, logger *slog.Logger) (*RedisBus, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if prefix == "" {
		prefix = "message:"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With("component", "redis_bus"),
	}, nil
}

func (b *RedisBus) channel(messageID string) string {
	return b.prefix + messageID
}

func (b *RedisBus) Publish(ctx context.Context, ev MessageEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal message event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel(ev.MessageID), raw).Err()
}

// StartForwarder subscribes to every message channel and calls onEvent for
// each decoded event until ctx is done.
func (b *RedisBus) StartForwarder(ctx context.Context, onEvent func(MessageEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev MessageEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.logger.Warn("bad redis message payload", "channel", m.Channel, "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
