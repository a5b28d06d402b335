package driverclient

import (
	"context"
	"errors"
	"time"

	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
)

// Fix is one reading from the device. Speed is in m/s.
type Fix struct {
	Latitude   float64
	Longitude  float64
	CapturedAt time.Time
	Accuracy   *float64
	Speed      *float64
	Heading    *float64
}

type PositionSource interface {
	Position(ctx context.Context) (Fix, error)
}

// Reporter pushes the driver's position for one delivery on every tick.
// Only the newest unsent fix is kept: a failed send is retried on the next tick
// unless a fresher fix has replaced it.
type Reporter struct {
	client         *Client
	deliveryID     string
	source         PositionSource
	interval       time.Duration
	requestTimeout time.Duration
	log            mylogger.Logger

	pending *dto.LocationRequest
}

func NewReporter(client *Client, deliveryID string, source PositionSource, interval, requestTimeout time.Duration, log mylogger.Logger) *Reporter {
	return &Reporter{
		client:         client,
		deliveryID:     deliveryID,
		source:         source,
		interval:       interval,
		requestTimeout: requestTimeout,
		log:            log.Action("location_reporter").With("delivery_id", deliveryID),
	}
}

// Run reports until ctx is cancelled (nil) or the server says the delivery is over (ErrDeliveryNotActive).
func (r *Reporter) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		if err := r.tick(ctx); err != nil {
			r.log.Info("delivery no longer active, reporter stopped")
			return err
		}

		select {
		case <-ctx.Done():
			r.log.Info("reporter cancelled")
			return nil
		case <-t.C:
		}
	}
}

// tick returns an error only when reporting must stop.
func (r *Reporter) tick(ctx context.Context) error {
	fix, err := r.source.Position(ctx)
	if err != nil {
		r.log.Warn("no position fix", "error", err.Error())
	} else {
		req := dto.LocationRequest{
			Latitude:   &fix.Latitude,
			Longitude:  &fix.Longitude,
			CapturedAt: &fix.CapturedAt,
			Accuracy:   fix.Accuracy,
			Speed:      fix.Speed,
			Heading:    fix.Heading,
		}
		r.pending = &req
	}

	if r.pending == nil {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	res, err := r.client.SendLocation(sendCtx, r.deliveryID, *r.pending)
	if err == nil {
		r.log.Debug("location sent", "result", res.Result)
		r.pending = nil
		return nil
	}

	if errors.Is(err, ErrDeliveryNotActive) {
		r.pending = nil
		return ErrDeliveryNotActive
	}

	var apiErr *StatusError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		// Stale or rejected samples will never be accepted.
		r.log.Warn("location rejected", "code", apiErr.Code, "reason", apiErr.Reason)
		r.pending = nil
		return nil
	}

	r.log.Warn("location send failed, will retry", "error", err.Error())
	return nil
}
