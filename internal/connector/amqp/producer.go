package amqp

import (
	"context"
	"encoding/json"

	"github.com/dispatchkit/dispatch/internal/apperr"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer publishes JSON-encoded messages through a shared Connection, per
// SPEC_FULL.md §4.5.2.
type Producer struct {
	conn *Connection
	cfg  Config
}

// NewProducer builds a Producer over conn.
func NewProducer(conn *Connection, cfg Config) *Producer {
	return &Producer{conn: conn, cfg: cfg}
}

// Publish marshals payload as JSON and publishes it.
//
// Queue mode: routingKey must be omitted (passing one is a configuration
// error, since a queue-mode connection has nowhere else to route).
// Exchange mode: routingKey, if supplied, overrides the configured default
// for this one publish.
//
// A publish that fails because the connection had gone stale is retried
// exactly once against a freshly re-established connection; a second
// failure is returned to the caller.
func (p *Producer) Publish(ctx context.Context, payload any, routingKey ...string) error {
	if p.cfg.IsQueueMode() && len(routingKey) > 0 {
		return apperr.New(apperr.KindBadRequest, "amqp: routing_key must not be supplied in queue mode")
	}

	key := p.cfg.RoutingKey
	if !p.cfg.IsQueueMode() && len(routingKey) > 0 {
		key = routingKey[0]
	}
	if p.cfg.IsQueueMode() {
		key = p.cfg.Queue
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Internal(err)
	}

	publishing := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		Body:            body,
	}

	exchange := p.cfg.Exchange // "" in queue mode: default exchange routes by queue name

	err = p.publishOnce(ctx, exchange, key, publishing)
	if err == nil {
		return nil
	}

	// One reconnect-and-retry attempt, per SPEC_FULL.md §4.5.2. Closing a
	// stale connection may itself fail; Close drops the handles either way,
	// so the retry dials afresh.
	_ = p.conn.Close()
	if err2 := p.publishOnce(ctx, exchange, key, publishing); err2 != nil {
		return apperr.ConnectorIO("amqp", err2)
	}
	return nil
}

func (p *Producer) publishOnce(ctx context.Context, exchange, key string, publishing amqp.Publishing) error {
	ch, err := p.conn.EnsureChannel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, exchange, key, false, false, publishing)
}
