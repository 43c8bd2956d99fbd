// Package redis pops ingest documents from Redis lists.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis consumer.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Keys are polled in order; earlier keys win when several have data.
	Keys         []string
	BlockTimeout time.Duration
}

// Message is one popped list element.
type Message struct {
	Key     string
	Payload []byte
}

// Consumer pops from one or more Redis lists with BLPOP.
type Consumer struct {
	client       *redis.Client
	keys         []string
	blockTimeout time.Duration
}

// NewConsumer creates a consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	keys := make([]string, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one redis list key is required")
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newConsumer(client, keys, cfg.BlockTimeout), nil
}

func newConsumer(client *redis.Client, keys []string, block time.Duration) *Consumer {
	return &Consumer{client: client, keys: keys, blockTimeout: block}
}

// Pop blocks for the next element of any key. It returns ok=false when the
// block timeout passes without data.
func (c *Consumer) Pop(ctx context.Context) (Message, bool, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.keys...).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	if len(res) < 2 {
		return Message{}, false, nil
	}
	return Message{Key: res[0], Payload: []byte(res[1])}, true, nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
