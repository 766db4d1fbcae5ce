// Package amqp implements the AMQP connector described in SPEC_FULL.md
// §4.5.2 and §3's AMQP connection data model: a robust, auto-reconnecting
// connection shared by the producer (this package) and the AMQP Listener
// (internal/listener/amqp), plus a JSON-publishing producer honoring the
// queue-mode/exchange-mode routing_key rule.
package amqp

import (
	"fmt"
	"time"
)

// Config mirrors spec.md §3's AMQP connection data: configured by
// (url, either queue or exchange(+type+routing_key), durability flags).
// Exactly one of Queue / Exchange must be set.
type Config struct {
	URL string

	Queue string

	Exchange     string
	ExchangeType string // "direct", "fanout", "topic", "headers"
	RoutingKey   string

	Durable    bool
	AutoDelete bool
	Exclusive  bool

	Prefetch   int
	RetryDelay time.Duration
}

// Validate enforces spec.md §3's invariant: exactly one of queue / exchange
// is configured.
func (c Config) Validate() error {
	hasQueue := c.Queue != ""
	hasExchange := c.Exchange != ""
	if hasQueue == hasExchange {
		return fmt.Errorf("amqp: exactly one of queue or exchange must be configured (queue=%q, exchange=%q)", c.Queue, c.Exchange)
	}
	if hasExchange && c.ExchangeType == "" {
		return fmt.Errorf("amqp: exchange mode requires an exchange type")
	}
	return nil
}

// IsQueueMode reports whether this config addresses a queue directly.
func (c Config) IsQueueMode() bool {
	return c.Queue != ""
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return 2 * time.Second
	}
	return c.RetryDelay
}
