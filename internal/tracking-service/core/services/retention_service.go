package services

import (
	"context"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

// RetentionService removes location history of deliveries that finished longer ago than the retention window.
type RetentionService struct {
	mylog      mylogger.Logger
	deliveries driven.IDeliveryRepo
	locations  driven.ILocationRepo
	metrics    *metrics.Metrics
	cfg        *config.Trackingconfig
	now        func() time.Time
}

func NewRetentionService(deps Deps) *RetentionService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RetentionService{
		mylog:      deps.Log,
		deliveries: deps.Deliveries,
		locations:  deps.Locations,
		metrics:    deps.Metrics,
		cfg:        deps.Cfg,
		now:        now,
	}
}

func (rs *RetentionService) Sweep(ctx context.Context) (int64, error) {
	log := rs.mylog.Action("RetentionSweep")

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cutoff := rs.now().UTC().Add(-rs.cfg.Retention)
	ids, err := rs.deliveries.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		log.Error("cannot list finished deliveries", err)
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := rs.locations.DeleteByDeliveries(ctx, ids)
	if err != nil {
		log.Error("cannot delete expired samples", err)
		return 0, err
	}

	rs.metrics.SamplesPruned.Add(float64(n))
	log.Info("expired location history removed", "deliveries", len(ids), "samples", n, "cutoff", cutoff)
	return n, nil
}

func (rs *RetentionService) Run(ctx context.Context) error {
	log := rs.mylog.Action("retention_sweeper")
	t := time.NewTicker(rs.cfg.RetentionSweep)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("retention sweeper stopped")
			return nil
		case <-t.C:
			// Errors are logged inside Sweep; the next tick retries.
			_, _ = rs.Sweep(ctx)
		}
	}
}
