package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/events"
	"github.com/quickbite/delivery-microservices/common/metrics"
)

// HandlerFunc processes one message body. A nil return acks the message; an
// error return sends it through the retry/DLQ path.
type HandlerFunc func(ctx context.Context, body []byte) error

// Router owns one durable queue, binds it to the topic exchange for every
// registered routing key, and dispatches inbound messages to the handler
// registered for their routing key. Payload shape is never inspected to pick
// a handler; the routing key alone decides.
type Router struct {
	queue    string
	handlers map[string]HandlerFunc
	keys     []string
	logger   *zap.Logger
	metrics  *metrics.EventMetrics
	done     chan struct{}
}

func NewRouter(queue string, logger *zap.Logger, m *metrics.EventMetrics) *Router {
	return &Router{
		queue:    queue,
		handlers: make(map[string]HandlerFunc),
		logger:   logger.With(zap.String("queue", queue)),
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// Handle registers h for routingKey. Registering the same key twice panics;
// that is always a wiring bug.
func (r *Router) Handle(routingKey string, h HandlerFunc) {
	if _, dup := r.handlers[routingKey]; dup {
		panic(fmt.Sprintf("broker: duplicate handler for %s on queue %s", routingKey, r.queue))
	}
	r.handlers[routingKey] = h
	r.keys = append(r.keys, routingKey)
}

// Listen declares the queue and its DLQ, binds all registered routing keys
// and consumes until the delivery channel closes or ctx is cancelled.
func (r *Router) Listen(ctx context.Context, ch *amqp.Channel) error {
	defer close(r.done)

	q, err := ch.QueueDeclare(
		r.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    DLX,
			"x-dead-letter-routing-key": r.queue,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", r.queue, err)
	}

	if err := r.declareDLQ(ch); err != nil {
		return err
	}

	for _, key := range r.keys {
		if err := ch.QueueBind(q.Name, key, events.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", q.Name, key, err)
		}
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // auto-ack: manual ack/nack drives the DLQ path
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from %s: %w", r.queue, err)
	}

	r.logger.Info("consumer started", zap.Strings("routing_keys", r.keys))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				r.logger.Info("delivery channel closed")
				return nil
			}
			r.dispatch(ctx, ch, d)
		}
	}
}

// Done is closed when the consume loop exits.
func (r *Router) Done() <-chan struct{} { return r.done }

func (r *Router) dispatch(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	// Retried messages come back through the default exchange with the
	// queue name as routing key; the original key travels in the Type field.
	key := d.RoutingKey
	if d.Type != "" {
		key = d.Type
	}

	msgCtx := ExtractTraceContext(ctx, d.Headers)
	tracer := otel.Tracer("broker")
	msgCtx, span := tracer.Start(msgCtx, "AMQP consume "+key)
	defer span.End()

	handler, ok := r.handlers[key]
	if !ok {
		r.logger.Warn("no handler for routing key, dropping", zap.String("routing_key", key))
		r.metrics.RecordConsumed(key, "dropped")
		if err := d.Ack(false); err != nil {
			r.logger.Error("failed to ack unroutable message", zap.Error(err))
		}
		return
	}

	if err := handler(msgCtx, d.Body); err != nil {
		r.logger.Error("handler failed",
			zap.String("routing_key", key),
			zap.Error(err),
		)
		r.metrics.RecordConsumed(key, "error")
		if err := HandleRetry(ch, &d, r.queue, r.logger); err != nil {
			r.logger.Error("failed to retry message", zap.Error(err))
			if nackErr := d.Nack(false, false); nackErr != nil {
				r.logger.Error("failed to nack message", zap.Error(nackErr))
			}
		}
		return
	}

	r.metrics.RecordConsumed(key, "ok")
	if err := d.Ack(false); err != nil {
		r.logger.Error("failed to ack message", zap.Error(err))
	}
}

func (r *Router) declareDLQ(ch *amqp.Channel) error {
	dlq := r.queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, r.queue, DLX, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ %s: %w", dlq, err)
	}
	return nil
}
