package app

import (
	"context"
	"sync"
	"time"

	"github.com/busquote/settlement-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

// Routing keys published on the booking events exchange.
const (
	RoutingContractSigned   = "booking.contract.signed"
	RoutingPaymentConfirmed = "booking.payment.confirmed"
	RoutingPaymentFailed    = "booking.payment.failed"
)

// EventDispatcher hands off best-effort side effects. Dispatch never blocks on the broker
// and never reports failure to the caller.
type EventDispatcher interface {
	Dispatch(routingKey string, payload interface{})
}

// Dispatcher publishes events asynchronously on a detached context so a slow or failing
// broker cannot affect the request that triggered the event.
type Dispatcher struct {
	publisher rabbitmq.Publisher
	exchange  string
	timeout   time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher publishing to exchange.
func NewDispatcher(publisher rabbitmq.Publisher, exchange string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		publisher: publisher,
		exchange:  exchange,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

// Dispatch publishes payload in the background. Failures and panics are logged only.
func (d *Dispatcher) Dispatch(routingKey string, payload interface{}) {
	if d == nil || d.publisher == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("event dispatch panicked",
					zap.String("component", "dispatcher"),
					zap.String("routing_key", routingKey),
					zap.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.publisher.Publish(ctx, d.exchange, routingKey, payload); err != nil {
			d.logger.Warn("event dispatch failed",
				zap.String("component", "dispatcher"),
				zap.String("exchange", d.exchange),
				zap.String("routing_key", routingKey),
				zap.Error(err),
			)
			return
		}
		d.logger.Debug("event dispatched",
			zap.String("component", "dispatcher"),
			zap.String("routing_key", routingKey),
		)
	}()
}

// Wait blocks until in-flight dispatches finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
