package main

import (
	"context"
	"sync"
	"time"

	"pharmacy-delivery/internal/driverclient"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/services"
)

// routeSource fakes a GPS receiver driving in a straight line towards a target.
type routeSource struct {
	mu       sync.Mutex
	pos      model.GeoPoint
	target   model.GeoPoint
	speedMps float64
	last     time.Time
	arrived  chan struct{}
	done     bool
}

func newRouteSource(start model.GeoPoint, speedMps float64) *routeSource {
	return &routeSource{
		pos:      start,
		target:   start,
		speedMps: speedMps,
		last:     time.Now(),
		arrived:  make(chan struct{}),
	}
}

// Head sets a new target and returns a channel closed on arrival.
func (s *routeSource) Head(target model.GeoPoint) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
	s.arrived = make(chan struct{})
	s.done = false
	return s.arrived
}

func (s *routeSource) Position(ctx context.Context) (driverclient.Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stepKm := s.speedMps * now.Sub(s.last).Seconds() / 1000
	s.last = now

	remaining := services.HaversineKm(s.pos, s.target)
	if remaining <= stepKm {
		s.pos = s.target
		if !s.done {
			s.done = true
			close(s.arrived)
		}
	} else {
		f := stepKm / remaining
		s.pos.Latitude += (s.target.Latitude - s.pos.Latitude) * f
		s.pos.Longitude += (s.target.Longitude - s.pos.Longitude) * f
	}

	speed := s.speedMps
	accuracy := 5.0
	return driverclient.Fix{
		Latitude:   s.pos.Latitude,
		Longitude:  s.pos.Longitude,
		CapturedAt: now,
		Speed:      &speed,
		Accuracy:   &accuracy,
	}, nil
}
