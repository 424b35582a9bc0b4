package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/psicoconnect/server-go/internal/redis"
)

// RedisFanout relays envelopes through Redis pub/sub so that every instance
// sharing the Redis sees every emit. Per-user envelopes go to the user's
// channel, broadcasts to the broadcast channel.
type RedisFanout struct {
	client redis.UniversalClient
}

func NewRedisFanout(client redis.UniversalClient) *RedisFanout {
	return &RedisFanout{client: client}
}

func (f *RedisFanout) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	channel := redisclient.BroadcastChannel
	if env.UserID != "" {
		channel = redisclient.UserChannel(env.UserID)
	}
	return f.client.Publish(ctx, channel, data).Err()
}

// Subscribe consumes every realtime channel until ctx is cancelled.
func (f *RedisFanout) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	pubsub := f.client.PSubscribe(ctx, redisclient.RealtimePattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", redisclient.RealtimePattern, err)
	}
	log.Info().Str("pattern", redisclient.RealtimePattern).Msg("realtime fanout subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Error().Err(err).Str("channel", msg.Channel).Msg("failed to decode realtime envelope")
				continue
			}
			if userID, ok := redisclient.UserIDFromChannel(msg.Channel); ok {
				env.UserID = userID
			}
			deliver(env)
		}
	}
}
