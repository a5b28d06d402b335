package driven

import (
	"context"

	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	OrderReadyBinding     = "order.ready.*"
	DeliveryStatusPrefix  = "delivery.status."
	DeliveryIssueKey      = "delivery.issue"
	VerificationIssuedKey = "delivery.verification.issued"
)

type ConsumeOptions struct {
	Prefetch     int
	AutoAck      bool
	QueueDurable bool
}

type IBroker interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, msg any) error
	Consume(ctx context.Context, queueName, bindingKey string, opts ConsumeOptions) (<-chan amqp.Delivery, error)
	IsAlive() bool
	Close() error
}

// IEventPublisher announces committed state changes. Delivery is best effort.
type IEventPublisher interface {
	StatusChanged(ctx context.Context, ev messagebrokerdto.DeliveryStatus) error
	IssueReported(ctx context.Context, ev messagebrokerdto.DeliveryIssue) error
}

// ICodeNotifier hands a freshly issued code to the customer channel.
type ICodeNotifier interface {
	SendCode(ctx context.Context, ev messagebrokerdto.VerificationIssued) error
}
