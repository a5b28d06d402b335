package services

import (
	"context"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

// Deps are the driven ports shared by every service.
type Deps struct {
	Deliveries    driven.IDeliveryRepo
	Locations     driven.ILocationRepo
	Verifications driven.IVerificationRepo
	Events        driven.IEventPublisher
	Codes         driven.ICodeNotifier
	Metrics       *metrics.Metrics
	Log           mylogger.Logger
	Cfg           *config.Trackingconfig
	// Now defaults to time.Now.
	Now func() time.Time

	// locks is shared by every service that changes a delivery's handoff state.
	locks *keyLock
}

func (d Deps) keyLock() *keyLock {
	if d.locks == nil {
		return newKeyLock()
	}
	return d.locks
}

type Services struct {
	Delivery     *DeliveryService
	Location     *LocationService
	ETA          *ETAService
	Dispatch     *DispatchService
	Verification *VerificationService
	Retention    *RetentionService
}

func New(deps Deps) (*Services, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.locks = newKeyLock()

	verification, err := NewVerificationService(deps)
	if err != nil {
		return nil, err
	}

	return &Services{
		Delivery:     NewDeliveryService(deps, verification),
		Location:     NewLocationService(deps),
		ETA:          NewETAService(deps),
		Dispatch:     NewDispatchService(deps),
		Verification: verification,
		Retention:    NewRetentionService(deps),
	}, nil
}

// repoTimeout bounds a single repository round trip.
const repoTimeout = 5 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, repoTimeout)
}
