package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

// DeliveryRepo keeps deliveries in a map. Conditional writes hold the write lock,
// which makes them atomic the same way the SQL WHERE clauses are.
type DeliveryRepo struct {
	mu         sync.RWMutex
	deliveries map[string]model.Delivery
	byOrder    map[string]string
}

var _ driven.IDeliveryRepo = (*DeliveryRepo)(nil)

func NewDeliveryRepo() *DeliveryRepo {
	return &DeliveryRepo{
		deliveries: make(map[string]model.Delivery),
		byOrder:    make(map[string]string),
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func clone(d model.Delivery) model.Delivery {
	d.Issues = slices.Clone(d.Issues)
	return d
}

func (r *DeliveryRepo) Create(ctx context.Context, d model.Delivery) (model.Delivery, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return model.Delivery{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byOrder[d.OrderID]; ok {
		return clone(r.deliveries[id]), false, nil
	}
	r.deliveries[d.ID] = clone(d)
	r.byOrder[d.OrderID] = d.ID
	return clone(d), true, nil
}

func (r *DeliveryRepo) Get(ctx context.Context, id string) (model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return model.Delivery{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deliveries[id]
	if !ok {
		return model.Delivery{}, myerrors.ErrDeliveryNotFound
	}
	return clone(d), nil
}

func (r *DeliveryRepo) GetMany(ctx context.Context, ids []string) ([]model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Delivery, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.deliveries[id]; ok {
			res = append(res, clone(d))
		}
	}
	return res, nil
}

func (r *DeliveryRepo) Assign(ctx context.Context, id, driverID string, at time.Time) (model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return model.Delivery{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return model.Delivery{}, myerrors.ErrDeliveryNotFound
	}
	if d.Status != model.StatusPending || d.HasDriver() {
		return model.Delivery{}, myerrors.ErrAlreadyAssigned
	}
	for _, other := range r.deliveries {
		if other.DriverID == driverID && !other.Status.IsTerminal() {
			return model.Delivery{}, myerrors.ErrDriverBusy
		}
	}

	d.DriverID = driverID
	d.Status = model.StatusAssigned
	d.StatusUpdatedAt = at
	r.deliveries[id] = d
	return clone(d), nil
}

func (r *DeliveryRepo) UpdateStatus(ctx context.Context, id string, from, to model.DeliveryStatus, at time.Time) (model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return model.Delivery{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return model.Delivery{}, myerrors.ErrDeliveryNotFound
	}
	if d.Status != from {
		return model.Delivery{}, fmt.Errorf("%w: status is %s, expected %s", myerrors.ErrConflict, d.Status, from)
	}

	d.Status = to
	d.StatusUpdatedAt = at
	r.deliveries[id] = d
	return clone(d), nil
}

func (r *DeliveryRepo) Cancel(ctx context.Context, id, reason string, at time.Time) (model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return model.Delivery{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return model.Delivery{}, myerrors.ErrDeliveryNotFound
	}
	if d.Status.IsTerminal() {
		return model.Delivery{}, fmt.Errorf("%w: status is %s", myerrors.ErrConflict, d.Status)
	}

	d.Status = model.StatusCancelled
	d.DriverID = ""
	d.CancelReason = reason
	d.StatusUpdatedAt = at
	r.deliveries[id] = d
	return clone(d), nil
}

func (r *DeliveryRepo) AppendIssue(ctx context.Context, id string, issue model.Issue) (model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return model.Delivery{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deliveries[id]
	if !ok {
		return model.Delivery{}, myerrors.ErrDeliveryNotFound
	}
	if d.Status.IsTerminal() {
		return model.Delivery{}, myerrors.ErrDeliveryNotActive
	}

	d.Issues = append(slices.Clone(d.Issues), issue)
	r.deliveries[id] = d
	return clone(d), nil
}

func (r *DeliveryRepo) ListAvailable(ctx context.Context) ([]model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Delivery
	for _, d := range r.deliveries {
		if d.Status == model.StatusPending && !d.HasDriver() {
			res = append(res, clone(d))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (r *DeliveryRepo) ActiveByDriver(ctx context.Context, driverID string) (model.Delivery, error) {
	if err := ctxErr(ctx); err != nil {
		return model.Delivery{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.deliveries {
		if d.DriverID == driverID && !d.Status.IsTerminal() {
			return clone(d), nil
		}
	}
	return model.Delivery{}, myerrors.ErrDeliveryNotFound
}

func (r *DeliveryRepo) ListTerminalBefore(ctx context.Context, before time.Time) ([]string, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, d := range r.deliveries {
		if d.Status.IsTerminal() && d.StatusUpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
