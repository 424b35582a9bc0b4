package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const realtimePrefix = "realtime:"

// RealtimePattern matches every realtime channel for a single PSubscribe.
const RealtimePattern = realtimePrefix + "*"

// BroadcastChannel carries events for every live connection on every instance.
const BroadcastChannel = realtimePrefix + "broadcast"

type Client struct {
	*redis.Client
}

func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// UserChannel is the pub/sub channel addressing every connection of one user.
func UserChannel(userID string) string {
	return realtimePrefix + "user:" + userID
}

// UserIDFromChannel reverses UserChannel. ok is false for any other channel.
func UserIDFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, realtimePrefix+"user:")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
