package amqp

import (
	"context"
	"errors"
	"testing"

	connamqp "github.com/dispatchkit/dispatch/internal/connector/amqp"
	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/dispatcher"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type fakeAcker struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error {
	return nil
}

func newTestListener(t *testing.T, handler any) (*Listener, *dispatcher.Dispatcher) {
	t.Helper()
	d := dispatcher.New(di.New(), router.New(), wsmanager.NewSessionManager())
	d.RegisterHandler("amqp", handler)

	l := &Listener{cfg: Config{Kind: "amqp"}, d: d}
	return l, d
}

func TestAckLawAcksOnSuccess(t *testing.T) {
	l, _ := newTestListener(t, func(ctx *reqcontext.AmqpContext) (any, error) {
		return nil, nil
	})

	acker := &fakeAcker{}
	delivery := amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, RoutingKey: "user.created"}

	l.handleDelivery(context.Background(), delivery)

	require.True(t, acker.acked)
	require.False(t, acker.nacked)
}

func TestAckLawNacksWithoutRequeueOnFailure(t *testing.T) {
	l, _ := newTestListener(t, func(ctx *reqcontext.AmqpContext) (any, error) {
		return nil, errors.New("boom")
	})

	acker := &fakeAcker{}
	delivery := amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, RoutingKey: "user.created"}

	l.handleDelivery(context.Background(), delivery)

	require.True(t, acker.nacked)
	require.False(t, acker.requeued)
	require.False(t, acker.acked)
}

func TestConfigValidateRejectsBothQueueAndExchange(t *testing.T) {
	cfg := connamqp.Config{Queue: "q", Exchange: "ex", ExchangeType: "topic"}
	require.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsNeitherQueueNorExchange(t *testing.T) {
	cfg := connamqp.Config{}
	require.Error(t, cfg.Validate())
}

func TestConfigValidateAcceptsQueueMode(t *testing.T) {
	cfg := connamqp.Config{Queue: "q"}
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateAcceptsExchangeMode(t *testing.T) {
	cfg := connamqp.Config{Exchange: "ex", ExchangeType: "topic", RoutingKey: "user.*"}
	require.NoError(t, cfg.Validate())
}
