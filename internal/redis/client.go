// Package redis wraps the go-redis client. Adapters accept the Cmdable
// alias instead of importing go-redis directly, keeping the library
// confined to this package.
package redis

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cmdable is a type alias for redis.Cmdable.
type Cmdable = redis.Cmdable

// Config holds the parameters needed to connect to a Redis instance.
// URL takes precedence over Addr when set (redis:// or rediss:// form).
type Config struct {
	URL                   string
	Addr                  string
	Password              string
	DB                    int
	TLS                   bool
	TLSRejectUnauthorized bool
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
}

// Client wraps a go-redis client. The RDB field satisfies the Cmdable
// interface and is the handle adapters use for Redis operations.
type Client struct {
	RDB *redis.Client
}

// NewClient creates a new Redis client configured from cfg.
func NewClient(cfg Config) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{RDB: redis.NewClient(opts)}, nil
}

func options(cfg Config) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	if cfg.TLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{}
	}
	if opts.TLSConfig != nil {
		opts.TLSConfig.InsecureSkipVerify = !cfg.TLSRejectUnauthorized //nolint:gosec // operator-controlled toggle for self-signed brokers
	}

	return opts, nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.RDB.Close()
}
