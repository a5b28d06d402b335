package driver

import (
	"context"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
)

type IDeliveryService interface {
	Create(ctx context.Context, req dto.CreateDeliveryRequest) (model.Delivery, bool, error)
	Get(ctx context.Context, id string) (model.Delivery, error)
	Authorize(ctx context.Context, id string, actor model.Actor, access model.Access) (model.Delivery, error)
	ActiveForDriver(ctx context.Context, driverID string) (model.Delivery, error)
	Assign(ctx context.Context, id, driverID string) (model.Delivery, error)
	Transition(ctx context.Context, id string, requested model.DeliveryStatus, actor model.Actor) (model.Delivery, error)
	Cancel(ctx context.Context, id, reason string, actor model.Actor) (model.Delivery, error)
	ReportIssue(ctx context.Context, id string, issueType model.IssueType, description string, actor model.Actor) (model.Delivery, error)
}

type RecordResult string

const (
	RecordStored    RecordResult = "stored"
	RecordCoalesced RecordResult = "coalesced"
)

type ILocationService interface {
	Record(ctx context.Context, deliveryID string, req dto.LocationRequest) (RecordResult, model.LocationSample, error)
	CurrentLocation(ctx context.Context, deliveryID string) (model.LocationSample, error)
	History(ctx context.Context, deliveryID string, limit int) ([]model.LocationSample, error)
	Nearby(ctx context.Context, point model.GeoPoint, radiusKm float64) ([]model.NearbyDelivery, error)
}

type IETAService interface {
	// Estimate uses the delivery's current leg when destination is nil.
	Estimate(ctx context.Context, deliveryID string, destination *model.GeoPoint) (model.ETA, error)
}

type AvailableFilter struct {
	MaxDistanceKm float64
	Priority      *int
}

type IDispatchService interface {
	ListAvailable(ctx context.Context, driverLocation model.GeoPoint, filter AvailableFilter) ([]model.AvailableDelivery, error)
	Accept(ctx context.Context, deliveryID, driverID string) (model.Delivery, error)
}

type CodeReceipt struct {
	DeliveryID       string
	ExpiresAt        time.Time
	ResendsRemaining int
}

type IVerificationService interface {
	Issue(ctx context.Context, deliveryID string) (CodeReceipt, error)
	EnsureIssued(ctx context.Context, deliveryID string) error
	Verify(ctx context.Context, deliveryID, code string, actor model.Actor) error
	Resend(ctx context.Context, deliveryID string) (CodeReceipt, error)
}
