package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

// LocationRepo keeps each delivery's samples sorted by receivedAt ascending.
type LocationRepo struct {
	mu      sync.RWMutex
	samples map[string][]model.LocationSample
}

var _ driven.ILocationRepo = (*LocationRepo)(nil)

func NewLocationRepo() *LocationRepo {
	return &LocationRepo{samples: make(map[string][]model.LocationSample)}
}

func (r *LocationRepo) Append(ctx context.Context, s model.LocationSample, maxSamples int) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.samples[s.DeliveryID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].ReceivedAt.After(s.ReceivedAt)
	})
	list = append(list, model.LocationSample{})
	copy(list[i+1:], list[i:])
	list[i] = s

	if maxSamples > 0 && len(list) > maxSamples {
		list = append([]model.LocationSample(nil), list[len(list)-maxSamples:]...)
	}
	r.samples[s.DeliveryID] = list
	return nil
}

func (r *LocationRepo) Latest(ctx context.Context, deliveryID string) (model.LocationSample, error) {
	if err := ctxErr(ctx); err != nil {
		return model.LocationSample{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.samples[deliveryID]
	if len(list) == 0 {
		return model.LocationSample{}, myerrors.ErrNoLocation
	}
	return list[len(list)-1], nil
}

func (r *LocationRepo) History(ctx context.Context, deliveryID string, limit int) ([]model.LocationSample, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.samples[deliveryID]
	n := min(limit, len(list))
	res := make([]model.LocationSample, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		res = append(res, list[i])
	}
	return res, nil
}

func (r *LocationRepo) LastCapturedAt(ctx context.Context, deliveryID string) (time.Time, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return time.Time{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last time.Time
	for _, s := range r.samples[deliveryID] {
		if s.CapturedAt.After(last) {
			last = s.CapturedAt
		}
	}
	return last, !last.IsZero(), nil
}

func (r *LocationRepo) LatestInBox(ctx context.Context, box driven.BoundingBox) ([]model.LocationSample, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.LocationSample
	for _, list := range r.samples {
		if len(list) == 0 {
			continue
		}
		s := list[len(list)-1]
		if s.Latitude < box.MinLat || s.Latitude > box.MaxLat || s.Longitude < box.MinLng || s.Longitude > box.MaxLng {
			continue
		}
		res = append(res, s)
	}
	return res, nil
}

func (r *LocationRepo) DeleteByDeliveries(ctx context.Context, deliveryIDs []string) (int64, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range deliveryIDs {
		n += int64(len(r.samples[id]))
		delete(r.samples, id)
	}
	return n, nil
}
