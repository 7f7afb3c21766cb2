// Package redis provides a Redis implementation of the stripefire.EventDeduper
// interface. Seen event IDs are recorded with SET NX so the check-and-mark is
// a single atomic round trip.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper implements stripefire.EventDeduper using Redis.
type Deduper struct {
	client redis.UniversalClient
	config Config
}

// Config holds deduper configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "stripefire:event:")
	KeyPrefix string

	// TTL is how long an event ID stays marked as seen (default: 72h, which
	// covers Stripe's webhook retry window).
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "stripefire:event:",
		TTL:       72 * time.Hour,
	}
}

// New creates a new Redis deduper.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Deduper, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "stripefire:event:"
	}
	if config.TTL <= 0 {
		config.TTL = 72 * time.Hour
	}
	return &Deduper{client: client, config: config}, nil
}

// Seen marks the event ID and reports whether it was already marked.
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.client.SetNX(ctx, d.config.KeyPrefix+eventID, 1, d.config.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return !set, nil
}
