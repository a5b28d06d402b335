package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"

	"github.com/google/uuid"
)

const (
	maxAccuracyMeters = 10_000
	maxSpeedMps       = 100
	maxHeadingDegrees = 360
)

// LocationService ingests driver samples and answers location queries.
type LocationService struct {
	mylog      mylogger.Logger
	deliveries driven.IDeliveryRepo
	locations  driven.ILocationRepo
	metrics    *metrics.Metrics
	cfg        *config.Trackingconfig
	tracks     *coalescer
	now        func() time.Time
}

var _ driver.ILocationService = (*LocationService)(nil)

func NewLocationService(deps Deps) *LocationService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &LocationService{
		mylog:      deps.Log,
		deliveries: deps.Deliveries,
		locations:  deps.Locations,
		metrics:    deps.Metrics,
		cfg:        deps.Cfg,
		tracks:     newCoalescer(),
		now:        now,
	}
}

// Record accepts one sample. Within the throttle window only the latest sample is kept and
// written later, either by the next sample after the window or by the background flush.
func (ls *LocationService) Record(ctx context.Context, deliveryID string, req dto.LocationRequest) (driver.RecordResult, model.LocationSample, error) {
	log := ls.mylog.Action("RecordLocation")
	now := ls.now().UTC()

	sample, err := ls.buildSample(deliveryID, req, now)
	if err != nil {
		ls.metrics.SamplesTotal.WithLabelValues("rejected").Inc()
		return "", model.LocationSample{}, myerrors.Validationf(err)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// Status is read on every sample so a cancellation stops ingestion immediately.
	d, err := ls.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return "", model.LocationSample{}, err
	}
	if !d.Status.IsTracking() {
		ls.metrics.SamplesTotal.WithLabelValues("rejected").Inc()
		return "", model.LocationSample{}, myerrors.ErrDeliveryNotActive
	}

	st := ls.tracks.lock(deliveryID)
	defer st.mu.Unlock()

	if !st.loaded {
		last, ok, err := ls.locations.LastCapturedAt(ctx, deliveryID)
		if err != nil {
			log.Error("cannot read last captured sample", err, "delivery_id", deliveryID)
			return "", model.LocationSample{}, err
		}
		if ok {
			st.lastCaptured = last
		}
		st.loaded = true
	}

	if !st.lastCaptured.IsZero() && sample.CapturedAt.Before(st.lastCaptured.Add(-ls.cfg.ClockSkew)) {
		ls.metrics.SamplesTotal.WithLabelValues("stale").Inc()
		log.Debug("stale sample rejected", "delivery_id", deliveryID,
			"captured_at", sample.CapturedAt, "last_captured_at", st.lastCaptured)
		return "", model.LocationSample{}, myerrors.ErrStaleSample
	}

	st.lastSeen = now
	lastCaptured := st.lastCaptured
	if sample.CapturedAt.After(lastCaptured) {
		lastCaptured = sample.CapturedAt
	}

	if !st.lastStored.IsZero() && now.Sub(st.lastStored) < ls.cfg.LocationThrottle {
		st.pending = &sample
		st.lastCaptured = lastCaptured
		ls.metrics.SamplesTotal.WithLabelValues("coalesced").Inc()
		return driver.RecordCoalesced, sample, nil
	}

	if err := ls.locations.Append(ctx, sample, ls.cfg.MaxSamples); err != nil {
		log.Error("cannot store location sample", err, "delivery_id", deliveryID)
		return "", model.LocationSample{}, err
	}

	// A pending sample from the previous window is superseded by this one.
	st.pending = nil
	st.lastStored = now
	st.lastCaptured = lastCaptured
	ls.metrics.SamplesTotal.WithLabelValues("stored").Inc()
	return driver.RecordStored, sample, nil
}

func (ls *LocationService) buildSample(deliveryID string, req dto.LocationRequest, now time.Time) (model.LocationSample, error) {
	if err := validateLatLng(req.Latitude, req.Longitude); err != nil {
		return model.LocationSample{}, err
	}
	if req.CapturedAt == nil || req.CapturedAt.IsZero() {
		return model.LocationSample{}, fmt.Errorf("%w: missing", myerrors.ErrInvalidCapturedAt)
	}
	if req.CapturedAt.After(now.Add(ls.cfg.ClockSkew)) {
		return model.LocationSample{}, fmt.Errorf("%w: in the future", myerrors.ErrInvalidCapturedAt)
	}
	if err := validateMeasurement(req.Accuracy, maxAccuracyMeters); err != nil {
		return model.LocationSample{}, err
	}
	if err := validateMeasurement(req.Speed, maxSpeedMps); err != nil {
		return model.LocationSample{}, err
	}
	if err := validateMeasurement(req.Heading, maxHeadingDegrees); err != nil {
		return model.LocationSample{}, err
	}

	return model.LocationSample{
		ID:         uuid.NewString(),
		DeliveryID: deliveryID,
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		CapturedAt: req.CapturedAt.UTC(),
		ReceivedAt: now,
		Accuracy:   req.Accuracy,
		Speed:      req.Speed,
		Heading:    req.Heading,
	}, nil
}

// FlushPending writes pending samples whose throttle window has passed and forgets idle deliveries.
func (ls *LocationService) FlushPending(ctx context.Context) {
	log := ls.mylog.Action("FlushPending")
	now := ls.now().UTC()
	idle := 10 * ls.cfg.LocationThrottle
	if idle < time.Minute {
		idle = time.Minute
	}

	for id, st := range ls.tracks.snapshot() {
		st.mu.Lock()
		if st.evicted {
			st.mu.Unlock()
			continue
		}

		if st.pending != nil && now.Sub(st.lastStored) >= ls.cfg.LocationThrottle {
			ls.flushOne(ctx, log, id, st, now)
		}

		if !st.evicted && st.pending == nil && now.Sub(st.lastSeen) > idle {
			ls.tracks.forget(id, st)
		}
		st.mu.Unlock()
	}
}

// flushOne runs with st.mu held.
func (ls *LocationService) flushOne(ctx context.Context, log mylogger.Logger, id string, st *trackState, now time.Time) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	d, err := ls.deliveries.Get(ctx, id)
	if err != nil {
		log.Error("cannot read delivery for pending sample", err, "delivery_id", id)
		return
	}
	if !d.Status.IsTracking() {
		ls.metrics.SamplesTotal.WithLabelValues("dropped").Inc()
		ls.tracks.forget(id, st)
		return
	}

	if err := ls.locations.Append(ctx, *st.pending, ls.cfg.MaxSamples); err != nil {
		log.Error("cannot store pending sample", err, "delivery_id", id)
		return
	}
	st.pending = nil
	st.lastStored = now
	ls.metrics.SamplesTotal.WithLabelValues("stored").Inc()
}

// RunFlusher flushes pending samples every throttle interval until ctx is done.
func (ls *LocationService) RunFlusher(ctx context.Context) error {
	log := ls.mylog.Action("location_flusher")
	t := time.NewTicker(ls.cfg.LocationThrottle)
	defer t.Stop()

	log.Info("location flusher started", "interval", ls.cfg.LocationThrottle.String())
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), repoTimeout)
			ls.FlushPending(flushCtx)
			cancel()
			log.Info("location flusher stopped")
			return nil
		case <-t.C:
			ls.FlushPending(ctx)
		}
	}
}

func (ls *LocationService) CurrentLocation(ctx context.Context, deliveryID string) (model.LocationSample, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return ls.locations.Latest(ctx, deliveryID)
}

// History returns the newest samples first. A non-positive limit means the default; larger limits are capped.
func (ls *LocationService) History(ctx context.Context, deliveryID string, limit int) ([]model.LocationSample, error) {
	if limit <= 0 {
		limit = ls.cfg.HistoryDefault
	}
	if limit > ls.cfg.HistoryMax {
		limit = ls.cfg.HistoryMax
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return ls.locations.History(ctx, deliveryID, limit)
}

// Nearby lists active deliveries whose current location lies within radiusKm of point, nearest first.
func (ls *LocationService) Nearby(ctx context.Context, point model.GeoPoint, radiusKm float64) ([]model.NearbyDelivery, error) {
	log := ls.mylog.Action("Nearby")

	if err := validatePoint(point); err != nil {
		return nil, myerrors.Validationf(err)
	}
	if !isFinite(radiusKm) || radiusKm <= 0 || IsCloseToZero(radiusKm) {
		return nil, myerrors.Validationf(myerrors.ErrInvalidRadius)
	}
	if radiusKm > ls.cfg.NearbyMaxRadiusKm {
		radiusKm = ls.cfg.NearbyMaxRadiusKm
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	samples, err := ls.locations.LatestInBox(ctx, boundingBox(point, radiusKm))
	if err != nil {
		log.Error("cannot query latest samples", err)
		return nil, err
	}

	inRange := make(map[string]model.NearbyDelivery, len(samples))
	ids := make([]string, 0, len(samples))
	for _, s := range samples {
		distance := HaversineKm(point, s.Point())
		if distance > radiusKm {
			continue
		}
		inRange[s.DeliveryID] = model.NearbyDelivery{Location: s, DistanceKm: distance}
		ids = append(ids, s.DeliveryID)
	}
	if len(ids) == 0 {
		return []model.NearbyDelivery{}, nil
	}

	deliveries, err := ls.deliveries.GetMany(ctx, ids)
	if err != nil {
		log.Error("cannot load nearby deliveries", err)
		return nil, err
	}

	res := make([]model.NearbyDelivery, 0, len(deliveries))
	for _, d := range deliveries {
		if !d.Status.IsTracking() {
			continue
		}
		nd := inRange[d.ID]
		nd.Delivery = d
		res = append(res, nd)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].DistanceKm < res[j].DistanceKm
	})
	return res, nil
}
