package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"trackhub/internal/common/log"
	"trackhub/internal/contracts"
	"trackhub/internal/hub"
)

// newConsumerChannel returns a fresh channel with prefetch (QoS) applied.
func (client *Client) newConsumerChannel(prefetch int) (*amqp.Channel, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if prefetch < 0 {
		prefetch = 1
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: set QoS (prefetch=%d): %w", prefetch, err)
		}
	}

	return ch, nil
}

// Consume starts consuming messages from a queue with manual acks.
func (client *Client) Consume(
	ctx context.Context,
	queue string,
	consumerTag string,
	prefetch int,
	handler func(context.Context, amqp.Delivery) error,
) error {
	ch, err := client.newConsumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.Consume(
		queue,
		consumerTag,
		false, // autoAck
		false, // exclusive
		false, // noLocal (ignored by RabbitMQ)
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}

	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			if consumerTag != "" {
				_ = ch.Cancel(consumerTag, false)
			}
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return nil

		case d, ok := <-deliveries:
			if !ok {
				// deliveries stream ended
				return nil
			}

			hCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := handler(hCtx, d)
			cancel()

			if err != nil {
				_ = d.Nack(false, false) // drop poison message
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// IngestConsumer bridges queue-delivered position reports into the hub, so
// devices reporting through AMQP share the staleness and fan-out path with
// socket devices.
type IngestConsumer struct {
	client   *Client
	hub      *hub.Hub
	logger   *slog.Logger
	prefetch int
}

func NewIngestConsumer(client *Client, h *hub.Hub, logger *slog.Logger, prefetch int) *IngestConsumer {
	return &IngestConsumer{client: client, hub: h, logger: logger, prefetch: prefetch}
}

// Run consumes the ingest queue until the context is canceled, reconnecting
// the consumer channel when the client recycles the connection.
func (c *IngestConsumer) Run(ctx context.Context) {
	for {
		err := c.client.Consume(ctx, contracts.QueuePositionIngest, "trackhub-ingest", c.prefetch, c.handle)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error(ctx, c.logger, "ingest_consume_failed", "Ingest consumer stopped, retrying", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *IngestConsumer) handle(ctx context.Context, d amqp.Delivery) error {
	var msg contracts.PositionUpdateMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return fmt.Errorf("decode ingest message: %w", err)
	}

	pos := hub.Position{
		DeviceID:       hub.DeviceID(msg.DeviceID),
		Latitude:       msg.Latitude,
		Longitude:      msg.Longitude,
		AccuracyMeters: msg.AccuracyMeters,
		Timestamp:      msg.Timestamp.UTC(),
	}

	res, err := c.hub.Ingest(ctx, pos)
	if err != nil {
		return fmt.Errorf("ingest position for %s: %w", msg.DeviceID, err)
	}
	if res == hub.RejectedStale {
		// replayed or out-of-order delivery; ack and move on
		c.logger.Debug("stale ingest dropped", "action", "ingest_stale", "device_id", msg.DeviceID)
	}
	return nil
}
