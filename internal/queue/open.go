package queue

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Config selects a backend. Redis must be set for the redis backend.
type Config struct {
	Backend string
	Name    string
	Redis   *redis.Client
	NATSURL string
}

// Open builds the configured queue. The returned func releases backend connections.
func Open(cfg Config) (Queue, func(), error) {
	switch cfg.Backend {
	case "memory":
		return NewInMemory(64), func() {}, nil
	case "redis":
		if cfg.Redis == nil {
			return nil, nil, fmt.Errorf("queue: redis backend needs a client")
		}
		return NewRedisQueue(cfg.Redis, cfg.Name), func() {}, nil
	case "nats":
		q, err := NewNATSQueue(cfg.NATSURL, cfg.Name,
			nats.Name("presence"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("queue: connect nats: %w", err)
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("queue: unknown backend %q", cfg.Backend)
	}
}
