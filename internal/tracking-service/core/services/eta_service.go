package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"

	"golang.org/x/sync/singleflight"
)

const mpsToKmh = 3.6

// ETAService estimates arrival from the latest sample along a straight line.
// Pollers asking the same question at the same moment share one lookup.
type ETAService struct {
	mylog      mylogger.Logger
	deliveries driven.IDeliveryRepo
	locations  driven.ILocationRepo
	cfg        *config.Trackingconfig
	group      singleflight.Group
}

var _ driver.IETAService = (*ETAService)(nil)

func NewETAService(deps Deps) *ETAService {
	return &ETAService{
		mylog:      deps.Log,
		deliveries: deps.Deliveries,
		locations:  deps.Locations,
		cfg:        deps.Cfg,
	}
}

func (es *ETAService) Estimate(ctx context.Context, deliveryID string, destination *model.GeoPoint) (model.ETA, error) {
	if destination != nil {
		if err := validatePoint(*destination); err != nil {
			return model.ETA{}, myerrors.Validationf(err)
		}
	}

	key := deliveryID
	if destination != nil {
		key = fmt.Sprintf("%s|%.6f|%.6f", deliveryID, destination.Latitude, destination.Longitude)
	}

	// The shared lookup must outlive any one poller; each caller still stops waiting on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := es.group.DoChan(key, func() (any, error) {
		return es.estimate(shared, deliveryID, destination)
	})

	select {
	case <-ctx.Done():
		return model.ETA{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.ETA{}, res.Err
		}
		return res.Val.(model.ETA), nil
	}
}

func (es *ETAService) estimate(ctx context.Context, deliveryID string, destination *model.GeoPoint) (model.ETA, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var dest model.GeoPoint
	if destination != nil {
		dest = *destination
	} else {
		d, err := es.deliveries.Get(ctx, deliveryID)
		if err != nil {
			return model.ETA{}, err
		}
		dest = d.Destination()
	}

	current, err := es.locations.Latest(ctx, deliveryID)
	if err != nil {
		return model.ETA{}, err
	}

	distance := HaversineKm(current.Point(), dest)
	speed := EffectiveSpeedKmh(current.Speed, es.cfg.MinSpeedKmh, es.cfg.FallbackSpeedKmh)
	seconds := EstimateSeconds(distance, speed)

	return model.ETA{
		DeliveryID:  deliveryID,
		Seconds:     seconds,
		Formatted:   FormatETA(seconds),
		DistanceKm:  math.Round(distance*1000) / 1000,
		SpeedKmh:    speed,
		Destination: dest,
		Location:    current,
	}, nil
}

// EffectiveSpeedKmh is the greater of the reported speed (when above minKmh) and the fallback.
// speedMps is the device-reported speed in metres per second.
func EffectiveSpeedKmh(speedMps *float64, minKmh, fallbackKmh float64) float64 {
	speed := fallbackKmh
	if speedMps == nil {
		return speed
	}
	reported := *speedMps * mpsToKmh
	if reported > minKmh && reported > speed {
		speed = reported
	}
	return speed
}

// EstimateSeconds never divides by zero: speedKmh is always the positive fallback or more.
func EstimateSeconds(distanceKm, speedKmh float64) int64 {
	if distanceKm <= 0 || speedKmh <= 0 {
		return 0
	}
	return int64(math.Ceil(distanceKm / speedKmh * 3600))
}

// FormatETA renders seconds with the largest fitting unit: "45 sec", "12 min", "2 h 5 min", "1 d 3 h".
func FormatETA(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds) * time.Second

	switch {
	case d < time.Minute:
		return strconv.FormatInt(seconds, 10) + " sec"
	case d < time.Hour:
		return strconv.FormatInt(int64(math.Ceil(d.Minutes())), 10) + " min"
	case d < 24*time.Hour:
		h := seconds / 3600
		m := (seconds % 3600) / 60
		if m == 0 {
			return fmt.Sprintf("%d h", h)
		}
		return fmt.Sprintf("%d h %d min", h, m)
	default:
		days := seconds / 86400
		h := (seconds % 86400) / 3600
		if h == 0 {
			return fmt.Sprintf("%d d", days)
		}
		return fmt.Sprintf("%d d %d h", days, h)
	}
}
