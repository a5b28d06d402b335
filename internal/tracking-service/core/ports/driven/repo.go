package driven

import (
	"context"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
)

type IDeliveryRepo interface {
	// Create stores d unless a delivery for the same order exists, in which case
	// the existing one is returned with created=false.
	Create(ctx context.Context, d model.Delivery) (stored model.Delivery, created bool, err error)
	Get(ctx context.Context, id string) (model.Delivery, error)
	GetMany(ctx context.Context, ids []string) ([]model.Delivery, error)
	// Assign sets driverID on a pending, unassigned delivery in one conditional write.
	Assign(ctx context.Context, id, driverID string, at time.Time) (model.Delivery, error)
	// UpdateStatus moves the delivery from -> to only if it is still in from.
	UpdateStatus(ctx context.Context, id string, from, to model.DeliveryStatus, at time.Time) (model.Delivery, error)
	// Cancel moves a non-terminal delivery to cancelled and releases its driver.
	Cancel(ctx context.Context, id, reason string, at time.Time) (model.Delivery, error)
	AppendIssue(ctx context.Context, id string, issue model.Issue) (model.Delivery, error)
	ListAvailable(ctx context.Context) ([]model.Delivery, error)
	ActiveByDriver(ctx context.Context, driverID string) (model.Delivery, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]string, error)
}

// BoundingBox limits a coordinate search. MinLng > MaxLng never happens; callers widen to the full range instead.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

type ILocationRepo interface {
	// Append stores s and prunes the delivery's oldest samples beyond maxSamples.
	Append(ctx context.Context, s model.LocationSample, maxSamples int) error
	// Latest returns the sample with the greatest receivedAt.
	Latest(ctx context.Context, deliveryID string) (model.LocationSample, error)
	// History returns up to limit samples, newest receivedAt first.
	History(ctx context.Context, deliveryID string, limit int) ([]model.LocationSample, error)
	LastCapturedAt(ctx context.Context, deliveryID string) (time.Time, bool, error)
	// LatestInBox returns the latest sample of every delivery whose latest sample lies inside box.
	LatestInBox(ctx context.Context, box BoundingBox) ([]model.LocationSample, error)
	DeleteByDeliveries(ctx context.Context, deliveryIDs []string) (int64, error)
}

type IVerificationRepo interface {
	// Issue invalidates every open code of the delivery and stores c.
	Issue(ctx context.Context, c model.VerificationCode) error
	// Open returns the newest code that is neither consumed nor invalidated. It may be expired.
	Open(ctx context.Context, deliveryID string) (model.VerificationCode, error)
	RecordFailure(ctx context.Context, codeID string, maxAttempts int, at time.Time) (attempts int, burned bool, err error)
	// Consume marks the code used if it is open and unexpired at at.
	Consume(ctx context.Context, codeID string, at time.Time) error
	HasConsumed(ctx context.Context, deliveryID string) (bool, error)
	CountIssued(ctx context.Context, deliveryID string) (int, error)
	InvalidateAll(ctx context.Context, deliveryID string, at time.Time) error
}
