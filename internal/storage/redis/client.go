package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session tokens live 30 days; login issues a fresh token each time.
const sessionTTL = 30 * 24 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetSession(ctx context.Context, token string, userID int64) error {
	return c.cli.Set(ctx, "session:"+token, userID, sessionTTL).Err()
}

func (c *Client) GetSession(ctx context.Context, token string) (int64, error) {
	val, err := c.cli.Get(ctx, "session:"+token).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis session value: %w", err)
	}
	return id, nil
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	return c.cli.Del(ctx, "session:"+token).Err()
}
