// Package redis implements a Redis change notifier.
//
// Publishes file change events as JSON to a configurable pub/sub channel and
// optionally mirrors the latest change per file into a hash, so late
// subscribers can catch up with HGETALL.
// Retries with exponential backoff on connection errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/burrow/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "burrow:file_changed"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: burrow:file_changed).
	Channel string
	// IndexKey, when set, names a hash holding the latest event per file.
	// Deletes remove the file's field.
	IndexKey string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Adapter publishes file change events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event to the configured channel, updating the index
// hash in the same transaction when one is configured.
func (a *Adapter) Publish(ctx context.Context, event *adapter.FileChangedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + a.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}
		if err := adapter.Wait(ctx, adapter.Backoff(i)); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		lastErr = a.send(publishCtx, event, body)
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

func (a *Adapter) send(ctx context.Context, event *adapter.FileChangedEvent, body []byte) error {
	if a.config.IndexKey == "" {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if event.Op == "delete" {
			pipe.HDel(ctx, a.config.IndexKey, event.FileName)
		} else {
			pipe.HSet(ctx, a.config.IndexKey, event.FileName, body)
		}
		pipe.Publish(ctx, a.config.Channel, body)
		return nil
	})
	return err
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
