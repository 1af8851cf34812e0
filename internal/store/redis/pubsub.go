// Package redis fans forwarded trace frames out to live followers.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/masgate/internal/config"
)

// followerBuffer is how many frames a follower may lag behind before it is
// cut off.
const followerBuffer = 256

// PubSub publishes frames for live followers. Publishers never wait for
// followers; a follower that falls behind loses its subscription.
type PubSub struct {
	client *redis.Client
	buffer int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*PubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New(%s): ping: %w", cfg.Addr, err)
	}

	return &PubSub{client: client, buffer: followerBuffer}, nil
}

func (ps *PubSub) Close() error {
	if err := ps.client.Close(); err != nil {
		return fmt.Errorf("redis.PubSub.Close: %w", err)
	}
	return nil
}

// Publish sends one frame. Having no subscribers is not an error.
func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish(%s): %w", channel, err)
	}
	return nil
}

// Subscribe follows channel until ctx ends or cleanup is called. The
// returned channel is closed when the follower is cut off for lagging, so
// callers treat a closed channel as end of stream.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Frames published before the confirmation would be missed silently.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe(%s): %w", channel, err)
	}

	out := make(chan []byte, ps.buffer)
	go relayMessages(ctx, channel, sub.Channel(redis.WithChannelSize(ps.buffer)), out)

	return out, func() { _ = sub.Close() }, nil
}

func relayMessages(ctx context.Context, channel string, in <-chan *redis.Message, out chan<- []byte) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				log.Warn().Str("channel", channel).Int("buffer", cap(out)).Msg("redis: follower lagging, dropping subscription")
				return
			}
		}
	}
}
