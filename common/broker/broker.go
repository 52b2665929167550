package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/events"
)

const (
	// MaxRetryCount bounds consumer-side retries before a message is
	// dead-lettered to its queue-specific DLQ.
	MaxRetryCount = 3

	// DLX is the shared dead-letter exchange. Each consumer queue declares
	// x-dead-letter-exchange=dlx and a fixed dead-letter routing key equal to
	// its own name, so failed messages land in "<queue>.dlq".
	DLX = "dlx"

	retryCountHeader = "x-retry-count"

	maxDialInterval = 30 * time.Second
)

// Connect dials RabbitMQ with exponential backoff, opens a channel and
// declares the topic exchange plus the dead-letter exchange. The returned
// close function shuts the channel before the connection.
func Connect(user, pass, host, port string, logger *zap.Logger) (*amqp.Channel, func() error, error) {
	address := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxDialInterval

	var conn *amqp.Connection
	deadline := time.Now().Add(2 * time.Minute)
	for {
		var err error
		conn, err = amqp.Dial(address)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("failed to connect to RabbitMQ at %s:%s: %w", host, port, err)
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxDialInterval
		}
		logger.Warn("rabbitmq dial failed, retrying",
			zap.Error(err),
			zap.Duration("sleep", sleep),
		)
		time.Sleep(sleep)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchanges(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	closeFn := func() error {
		if err := ch.Close(); err != nil {
			return err
		}
		return conn.Close()
	}

	return ch, closeFn, nil
}

func declareExchanges(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		events.Exchange, // name
		"topic",         // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", events.Exchange, err)
	}

	err = ch.ExchangeDeclare(
		DLX,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLX exchange: %w", err)
	}

	return nil
}

// Publish sends body to the topic exchange under routingKey as a persistent
// JSON message, with the current trace context injected into the headers.
func Publish(ctx context.Context, ch *amqp.Channel, routingKey string, body []byte) error {
	return ch.PublishWithContext(
		ctx,
		events.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      InjectTraceContext(ctx),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// HandleRetry republishes a failed delivery with an incremented retry
// counter. Once the counter reaches MaxRetryCount the message is nacked
// without requeue, which routes it through the DLX into the queue's DLQ.
// The republish targets the queue directly through the default exchange so
// other queues bound to the same topic pattern do not see the message twice.
func HandleRetry(ch *amqp.Channel, d *amqp.Delivery, queue string, logger *zap.Logger) error {
	if d.Headers == nil {
		d.Headers = amqp.Table{}
	}

	retryCount, ok := d.Headers[retryCountHeader].(int64)
	if !ok {
		retryCount = 0
	}
	retryCount++
	d.Headers[retryCountHeader] = retryCount

	if retryCount >= MaxRetryCount {
		logger.Warn("max retries reached, dead-lettering message",
			zap.String("routing_key", d.RoutingKey),
			zap.Int64("retry_count", retryCount),
		)
		return d.Nack(false, false)
	}

	logger.Info("retrying message",
		zap.String("routing_key", d.RoutingKey),
		zap.Int64("retry_count", retryCount),
	)

	time.Sleep(time.Second * time.Duration(retryCount))

	err := ch.PublishWithContext(
		context.Background(),
		"",    // default exchange: route straight back to the queue
		queue, // queue name doubles as the routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         d.RoutingKey, // preserve the original routing key for dispatch
			Headers:      d.Headers,
			Body:         d.Body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return err
	}
	return d.Ack(false)
}
