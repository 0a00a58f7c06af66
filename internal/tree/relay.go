package tree

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/erazemk/bazaar/internal/logger"
)

// Relay forwards change notifications to other processes.
type Relay interface {
	Publish(ctx context.Context, path string) error
}

// RedisRelay relays changed paths over a Redis pub/sub channel so that
// several processes sharing one database notify each other's subscribers.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub
	log     *logger.Logger
}

// NewRedisRelay returns a relay feeding remote changes into hub.
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log *logger.Logger) *RedisRelay {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		log:     log,
	}
}

// Publish announces a change at path. Messages are "<origin> <path>".
func (r *RedisRelay) Publish(ctx context.Context, path string) error {
	if err := r.client.Publish(ctx, r.channel, r.origin+" "+path).Err(); err != nil {
		return fmt.Errorf("publishing change of %s: %w", path, err)
	}
	return nil
}

// Run consumes changes published by other processes until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("change relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			origin, path, found := strings.Cut(msg.Payload, " ")
			if !found || origin == r.origin {
				continue
			}
			r.hub.Notify(path)
		}
	}
}
