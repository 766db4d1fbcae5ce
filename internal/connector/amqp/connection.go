package amqp

import (
	"context"
	"sync"

	"github.com/dispatchkit/dispatch/internal/apperr"
	"github.com/dispatchkit/dispatch/internal/logging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Connection is a lazy, auto-reconnecting AMQP connection shared by the
// producer and the AMQP Listener. It declares its queue or exchange exactly
// once per physical connection, immediately after dialing, per
// SPEC_FULL.md §4.4.4/§4.5.2.
type Connection struct {
	cfg Config
	log *zerolog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string // the queue actually consumed/published to once declared
}

// NewConnection validates cfg and returns an unconnected Connection. The
// first dial happens lazily, on the first EnsureChannel call.
func NewConnection(cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connection{cfg: cfg, log: logging.Component("connector.amqp")}, nil
}

// EnsureChannel returns a live, declared channel, reconnecting from scratch
// if the previous connection/channel has gone away.
func (c *Connection) EnsureChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureChannelLocked()
}

func (c *Connection) ensureChannelLocked() (*amqp.Channel, error) {
	if c.conn != nil && !c.conn.IsClosed() && c.ch != nil {
		return c.ch, nil
	}

	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return nil, apperr.ConnectorIO("amqp", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, apperr.ConnectorIO("amqp", err)
	}

	queueName, err := declareTopology(ch, c.cfg)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	c.queueName = queueName

	c.conn = conn
	c.ch = ch
	c.log.Info().Str("url", redactURL(c.cfg.URL)).Msg("amqp connection established")
	return ch, nil
}

// declareTopology declares the queue (queue mode) or the exchange plus an
// anonymous bound queue (exchange mode), per SPEC_FULL.md §4.4.4, and
// returns the name of the queue it declared.
func declareTopology(ch *amqp.Channel, cfg Config) (string, error) {
	if cfg.IsQueueMode() {
		_, err := ch.QueueDeclare(cfg.Queue, cfg.Durable, cfg.AutoDelete, cfg.Exclusive, false, nil)
		if err != nil {
			return "", apperr.ConnectorIO("amqp", err)
		}
		return cfg.Queue, nil
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return "", apperr.ConnectorIO("amqp", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", apperr.ConnectorIO("amqp", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return "", apperr.ConnectorIO("amqp", err)
	}
	return q.Name, nil
}

// QueueName returns the queue frames are consumed from: the configured
// queue in queue mode, or the anonymous bound queue in exchange mode. It is
// only meaningful after a successful EnsureChannel call.
func (c *Connection) QueueName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueName
}

// Consume starts consuming from the connection's queue. ctx cancellation
// stops delivery only by closing the channel on the caller's side; the
// underlying amqp091-go delivery channel closes itself when the broker
// connection drops, which the AMQP Listener's reconnect loop treats as a
// signal to re-establish.
func (c *Connection) Consume(_ context.Context) (<-chan amqp.Delivery, error) {
	ch, err := c.EnsureChannel()
	if err != nil {
		return nil, err
	}
	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return nil, apperr.ConnectorIO("amqp", err)
		}
	}
	deliveries, err := ch.Consume(c.QueueName(), "", false, false, false, false, nil)
	if err != nil {
		return nil, apperr.ConnectorIO("amqp", err)
	}
	return deliveries, nil
}

// Close releases the channel and connection, if open.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			first = err
		}
		c.ch = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && first == nil {
			first = err
		}
		c.conn = nil
	}
	return first
}

// redactURL strips userinfo from an AMQP URL before it reaches a log line.
func redactURL(raw string) string {
	scheme := "amqp://"
	at := -1
	for i := len(scheme); i < len(raw); i++ {
		if raw[i] == '@' {
			at = i
			break
		}
		if raw[i] == '/' {
			break
		}
	}
	if at == -1 {
		return raw
	}
	return scheme + "***@" + raw[at+1:]
}
