package bm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"

	amqp "github.com/rabbitmq/amqp091-go"
)

const resubscribeInterval = 5 * time.Second

var errMalformed = errors.New("malformed message")

// OrderConsumer turns order.ready events from the order service into pending deliveries.
type OrderConsumer struct {
	log        mylogger.Logger
	broker     driven.IBroker
	deliveries driver.IDeliveryService
	queue      string
}

func NewOrderConsumer(broker driven.IBroker, deliveries driver.IDeliveryService, queue string, log mylogger.Logger) *OrderConsumer {
	return &OrderConsumer{
		log:        log.Action("order_consumer"),
		broker:     broker,
		deliveries: deliveries,
		queue:      queue,
	}
}

// Run consumes until ctx is done, subscribing again whenever the channel closes.
func (c *OrderConsumer) Run(ctx context.Context) error {
	for {
		msgs, err := c.broker.Consume(ctx, c.queue, driven.OrderReadyBinding, driven.ConsumeOptions{
			Prefetch:     10,
			AutoAck:      false,
			QueueDurable: true,
		})
		if err != nil {
			c.log.Error("cannot subscribe to order events", err, "queue", c.queue)
		} else {
			c.log.Info("subscribed to order events", "queue", c.queue, "binding", driven.OrderReadyBinding)
			c.drain(ctx, msgs)
		}

		select {
		case <-ctx.Done():
			c.log.Info("order consumer stopped")
			return nil
		case <-time.After(resubscribeInterval):
		}
	}
}

func (c *OrderConsumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("order channel closed")
				return
			}
			c.Handle(ctx, msg)
		}
	}
}

// Handle processes one message. Malformed or invalid orders are dropped; other failures are requeued.
func (c *OrderConsumer) Handle(ctx context.Context, msg amqp.Delivery) {
	log := c.log.With("routing_key", msg.RoutingKey, "correlation_id", msg.CorrelationId)

	err := c.process(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error("failed to acknowledge message", ackErr)
		}
	case errors.Is(err, errMalformed) || errors.Is(err, myerrors.ErrValidation):
		log.Warn("order event rejected", "reason", err.Error())
		if nackErr := msg.Nack(false, false); nackErr != nil {
			log.Error("failed to reject message", nackErr)
		}
	default:
		log.Error("order event failed, requeueing", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			log.Error("failed to requeue message", nackErr)
		}
	}
}

func (c *OrderConsumer) process(ctx context.Context, body []byte) error {
	var m messagebrokerdto.OrderReady
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}

	req := dto.CreateDeliveryRequest{
		OrderID:    &m.OrderID,
		CustomerID: m.CustomerID,
		Pickup:     placeRequest(m.Pickup),
		Dropoff:    placeRequest(m.Dropoff),
	}
	if m.Priority != 0 {
		req.Priority = &m.Priority
	}

	d, created, err := c.deliveries.Create(ctx, req)
	if err != nil {
		return err
	}
	c.log.Info("order event processed", "order_id", m.OrderID, "delivery_id", d.ID, "created", created)
	return nil
}

func placeRequest(l messagebrokerdto.Location) dto.PlaceRequest {
	return dto.PlaceRequest{
		Latitude:  &l.Lat,
		Longitude: &l.Lng,
		Address:   &l.Address,
	}
}
