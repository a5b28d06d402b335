package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"
)

type DispatchService struct {
	mylog   mylogger.Logger
	repo    driven.IDeliveryRepo
	events  driven.IEventPublisher
	metrics *metrics.Metrics
	cfg     *config.Trackingconfig
	now     func() time.Time
}

var _ driver.IDispatchService = (*DispatchService)(nil)

func NewDispatchService(deps Deps) *DispatchService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &DispatchService{
		mylog:   deps.Log,
		repo:    deps.Deliveries,
		events:  deps.Events,
		metrics: deps.Metrics,
		cfg:     deps.Cfg,
		now:     now,
	}
}

// ListAvailable returns pending deliveries whose pickup is within reach of the driver,
// highest priority first and nearest first within a priority.
func (ds *DispatchService) ListAvailable(ctx context.Context, driverLocation model.GeoPoint, filter driver.AvailableFilter) ([]model.AvailableDelivery, error) {
	log := ds.mylog.Action("ListAvailable")

	if err := validatePoint(driverLocation); err != nil {
		return nil, myerrors.Validationf(err)
	}

	maxDistance := filter.MaxDistanceKm
	switch {
	case !isFinite(maxDistance) || maxDistance < 0:
		return nil, myerrors.Validationf(myerrors.ErrInvalidRadius)
	case IsCloseToZero(maxDistance):
		maxDistance = ds.cfg.AvailableDefaultKm
	case maxDistance > ds.cfg.AvailableMaxKm:
		maxDistance = ds.cfg.AvailableMaxKm
	}

	if filter.Priority != nil && (*filter.Priority < model.MinPriority || *filter.Priority > model.MaxPriority) {
		return nil, myerrors.Validationf(myerrors.ErrInvalidPriority)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	pending, err := ds.repo.ListAvailable(ctx)
	if err != nil {
		log.Error("cannot list pending deliveries", err)
		return nil, err
	}

	res := make([]model.AvailableDelivery, 0, len(pending))
	for _, d := range pending {
		if d.Status != model.StatusPending || d.HasDriver() {
			continue
		}
		if filter.Priority != nil && d.Priority != *filter.Priority {
			continue
		}
		distance := HaversineKm(driverLocation, d.Pickup.Point)
		if distance > maxDistance {
			continue
		}
		res = append(res, model.AvailableDelivery{Delivery: d, DistanceKm: distance})
	}

	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Delivery.Priority != res[j].Delivery.Priority {
			return res[i].Delivery.Priority > res[j].Delivery.Priority
		}
		return res[i].DistanceKm < res[j].DistanceKm
	})

	log.Debug("available deliveries listed", "count", len(res), "max_distance_km", maxDistance)
	return res, nil
}

// Accept lets a driver claim a pending delivery. Under concurrent calls exactly one driver wins;
// the rest get ErrAlreadyAssigned.
func (ds *DispatchService) Accept(ctx context.Context, deliveryID, driverID string) (model.Delivery, error) {
	log := ds.mylog.Action("Accept")

	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return model.Delivery{}, myerrors.Validationf(fmt.Errorf("driver id: %w", myerrors.ErrEmptyField))
	}

	d, err := assignDriver(ctx, ds.repo, deliveryID, driverID, ds.now().UTC())
	switch {
	case errors.Is(err, myerrors.ErrAlreadyAssigned):
		ds.metrics.AcceptTotal.WithLabelValues("lost").Inc()
		log.Info("accept lost", "delivery_id", deliveryID, "driver_id", driverID)
		return model.Delivery{}, err
	case errors.Is(err, myerrors.ErrDriverBusy):
		ds.metrics.AcceptTotal.WithLabelValues("busy").Inc()
		log.Info("driver already busy", "delivery_id", deliveryID, "driver_id", driverID)
		return model.Delivery{}, err
	case err != nil:
		log.Error("accept failed", err, "delivery_id", deliveryID, "driver_id", driverID)
		return model.Delivery{}, err
	}

	ds.metrics.AcceptTotal.WithLabelValues("won").Inc()
	ds.metrics.TransitionsTotal.WithLabelValues(d.Status.String()).Inc()
	log.Info("accept won", "delivery_id", deliveryID, "driver_id", driverID)

	ev := messagebrokerdto.DeliveryStatus{
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		Status:     d.Status.String(),
		DriverID:   d.DriverID,
		Timestamp:  d.StatusUpdatedAt,
	}
	if err := ds.events.StatusChanged(ctx, ev); err != nil {
		log.Error("cannot publish status event", err, "delivery_id", d.ID)
	}
	return d, nil
}
