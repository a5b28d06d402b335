package bm

import (
	"context"

	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

// Publisher sends delivery events to the topic exchange.
type Publisher struct {
	log      mylogger.Logger
	broker   driven.IBroker
	exchange string
	metrics  *metrics.Metrics
}

var (
	_ driven.IEventPublisher = (*Publisher)(nil)
	_ driven.ICodeNotifier   = (*Publisher)(nil)
)

func NewPublisher(broker driven.IBroker, exchange string, m *metrics.Metrics, log mylogger.Logger) *Publisher {
	return &Publisher{
		log:      log.Action("publish"),
		broker:   broker,
		exchange: exchange,
		metrics:  m,
	}
}

func (p *Publisher) StatusChanged(ctx context.Context, ev messagebrokerdto.DeliveryStatus) error {
	return p.publish(ctx, driven.DeliveryStatusPrefix+ev.Status, ev.DeliveryID, ev)
}

func (p *Publisher) IssueReported(ctx context.Context, ev messagebrokerdto.DeliveryIssue) error {
	return p.publish(ctx, driven.DeliveryIssueKey, ev.DeliveryID, ev)
}

// SendCode hands the plaintext code to the notification service. The code itself is never logged.
func (p *Publisher) SendCode(ctx context.Context, ev messagebrokerdto.VerificationIssued) error {
	return p.publish(ctx, driven.VerificationIssuedKey, ev.DeliveryID, ev)
}

func (p *Publisher) publish(ctx context.Context, routingKey, deliveryID string, msg any) error {
	if err := p.broker.PublishJSON(ctx, p.exchange, routingKey, msg); err != nil {
		p.metrics.EventsPublishedTotal.WithLabelValues(routingKey, "error").Inc()
		p.log.Error("failed to publish message", err, "routing_key", routingKey, "delivery_id", deliveryID)
		return err
	}
	p.metrics.EventsPublishedTotal.WithLabelValues(routingKey, "ok").Inc()
	p.log.Debug("message published", "routing_key", routingKey, "delivery_id", deliveryID)
	return nil
}

// NopPublisher stands in when the broker is disabled.
type NopPublisher struct {
	log mylogger.Logger
}

var (
	_ driven.IEventPublisher = NopPublisher{}
	_ driven.ICodeNotifier   = NopPublisher{}
)

func NewNopPublisher(log mylogger.Logger) NopPublisher {
	return NopPublisher{log: log.Action("publish")}
}

func (n NopPublisher) StatusChanged(ctx context.Context, ev messagebrokerdto.DeliveryStatus) error {
	n.log.Debug("broker disabled, status event dropped", "delivery_id", ev.DeliveryID, "status", ev.Status)
	return nil
}

func (n NopPublisher) IssueReported(ctx context.Context, ev messagebrokerdto.DeliveryIssue) error {
	n.log.Debug("broker disabled, issue event dropped", "delivery_id", ev.DeliveryID)
	return nil
}

func (n NopPublisher) SendCode(ctx context.Context, ev messagebrokerdto.VerificationIssued) error {
	n.log.Warn("broker disabled, verification code not delivered", "delivery_id", ev.DeliveryID)
	return nil
}
