package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"

	"github.com/google/uuid"
)

// handoffIssuer issues the verification code when a delivery reaches the dropoff.
type handoffIssuer interface {
	EnsureIssued(ctx context.Context, deliveryID string) error
}

// DeliveryService owns delivery status. Every change goes through a conditional repository write
// while holding the per-delivery lock; broker and verification side effects run after the lock is released.
type DeliveryService struct {
	mylog   mylogger.Logger
	repo    driven.IDeliveryRepo
	codes   driven.IVerificationRepo
	events  driven.IEventPublisher
	handoff handoffIssuer
	metrics *metrics.Metrics
	cfg     *config.Trackingconfig
	locks   *keyLock
	now     func() time.Time
}

var _ driver.IDeliveryService = (*DeliveryService)(nil)

func NewDeliveryService(deps Deps, handoff handoffIssuer) *DeliveryService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &DeliveryService{
		mylog:   deps.Log,
		repo:    deps.Deliveries,
		codes:   deps.Verifications,
		events:  deps.Events,
		handoff: handoff,
		metrics: deps.Metrics,
		cfg:     deps.Cfg,
		locks:   deps.keyLock(),
		now:     now,
	}
}

func (ds *DeliveryService) Create(ctx context.Context, req dto.CreateDeliveryRequest) (model.Delivery, bool, error) {
	log := ds.mylog.Action("CreateDelivery")

	nd, err := validateCreateRequest(req)
	if err != nil {
		return model.Delivery{}, false, myerrors.Validationf(err)
	}

	now := ds.now().UTC()
	d := model.Delivery{
		ID:              uuid.NewString(),
		OrderID:         nd.OrderID,
		CustomerID:      nd.CustomerID,
		Status:          model.StatusPending,
		Priority:        nd.Priority,
		Pickup:          nd.Pickup,
		Dropoff:         nd.Dropoff,
		CreatedAt:       now,
		StatusUpdatedAt: now,
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	stored, created, err := ds.repo.Create(ctx, d)
	if err != nil {
		log.Error("cannot store delivery", err, "order_id", nd.OrderID)
		return model.Delivery{}, false, err
	}

	if !created {
		log.Info("delivery already exists for order", "order_id", nd.OrderID, "delivery_id", stored.ID)
		return stored, false, nil
	}

	log.Info("delivery created", "delivery_id", stored.ID, "order_id", stored.OrderID, "priority", stored.Priority)
	ds.publishStatus(ctx, stored, "")
	return stored, true, nil
}

func validateCreateRequest(req dto.CreateDeliveryRequest) (model.NewDelivery, error) {
	if req.OrderID == nil || strings.TrimSpace(*req.OrderID) == "" {
		return model.NewDelivery{}, fmt.Errorf("order id: %w", myerrors.ErrEmptyField)
	}

	pickup, err := validatePlace(req.Pickup)
	if err != nil {
		return model.NewDelivery{}, fmt.Errorf("invalid pickup: %w", err)
	}
	dropoff, err := validatePlace(req.Dropoff)
	if err != nil {
		return model.NewDelivery{}, fmt.Errorf("invalid dropoff: %w", err)
	}

	priority := model.MinPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < model.MinPriority || priority > model.MaxPriority {
		return model.NewDelivery{}, myerrors.ErrInvalidPriority
	}

	return model.NewDelivery{
		OrderID:    strings.TrimSpace(*req.OrderID),
		CustomerID: strings.TrimSpace(req.CustomerID),
		Priority:   priority,
		Pickup:     pickup,
		Dropoff:    dropoff,
	}, nil
}

func (ds *DeliveryService) Get(ctx context.Context, id string) (model.Delivery, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return ds.repo.Get(ctx, id)
}

// Authorize loads the delivery and checks that actor may access it.
func (ds *DeliveryService) Authorize(ctx context.Context, id string, actor model.Actor, access model.Access) (model.Delivery, error) {
	d, err := ds.Get(ctx, id)
	if err != nil {
		return model.Delivery{}, err
	}
	if !actor.Allows(access, &d) {
		ds.mylog.Action("Authorize").Warn("access denied",
			"delivery_id", id, "actor_id", actor.ID, "role", actor.Role, "access", access)
		return model.Delivery{}, myerrors.ErrForbidden
	}
	return d, nil
}

func (ds *DeliveryService) ActiveForDriver(ctx context.Context, driverID string) (model.Delivery, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return ds.repo.ActiveByDriver(ctx, driverID)
}

// Assign is the dispatcher-side assignment. It shares the conditional write with Accept.
func (ds *DeliveryService) Assign(ctx context.Context, id, driverID string) (model.Delivery, error) {
	log := ds.mylog.Action("Assign")

	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return model.Delivery{}, myerrors.Validationf(fmt.Errorf("driver id: %w", myerrors.ErrEmptyField))
	}

	d, err := assignDriver(ctx, ds.repo, id, driverID, ds.now().UTC())
	if err != nil {
		log.Warn("assignment rejected", "delivery_id", id, "driver_id", driverID, "reason", err.Error())
		return model.Delivery{}, err
	}

	log.Info("delivery assigned", "delivery_id", id, "driver_id", driverID)
	ds.metrics.TransitionsTotal.WithLabelValues(d.Status.String()).Inc()
	ds.publishStatus(ctx, d, "")
	return d, nil
}

// assignDriver runs the compare-and-set on driver_id. A retry by the driver that already won is a success.
func assignDriver(ctx context.Context, repo driven.IDeliveryRepo, id, driverID string, at time.Time) (model.Delivery, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	d, err := repo.Assign(ctx, id, driverID, at)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, myerrors.ErrAlreadyAssigned) {
		return model.Delivery{}, err
	}

	cur, getErr := repo.Get(ctx, id)
	if getErr != nil {
		return model.Delivery{}, err
	}
	if cur.DriverID == driverID && !cur.Status.IsTerminal() {
		return cur, nil
	}
	return model.Delivery{}, err
}

// sideEffects are collected under the lock and run after it is released.
type sideEffects struct {
	publish     bool
	reason      string
	issueCode   bool
	invalidate  bool
	transitions bool
}

func (ds *DeliveryService) Transition(ctx context.Context, id string, requested model.DeliveryStatus, actor model.Actor) (model.Delivery, error) {
	log := ds.mylog.Action("Transition")

	if !requested.IsValid() {
		return model.Delivery{}, myerrors.Validationf(fmt.Errorf("%w: %q", myerrors.ErrInvalidStatus, requested))
	}
	if requested == model.StatusCancelled {
		return ds.Cancel(ctx, id, "", actor)
	}

	d, fx, err := ds.transitionLocked(ctx, id, requested, actor)
	if err != nil {
		log.Warn("transition rejected", "delivery_id", id, "requested", requested, "actor_id", actor.ID, "reason", err.Error())
		return model.Delivery{}, err
	}

	log.Info("transition applied", "delivery_id", id, "status", d.Status, "actor_id", actor.ID, "replay", !fx.transitions)
	ds.runSideEffects(ctx, log, d, fx)
	return d, nil
}

func (ds *DeliveryService) transitionLocked(ctx context.Context, id string, requested model.DeliveryStatus, actor model.Actor) (model.Delivery, sideEffects, error) {
	unlock := ds.locks.Lock(id)
	defer unlock()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return model.Delivery{}, sideEffects{}, err
	}
	if !actor.Allows(model.AccessDrive, &d) {
		return model.Delivery{}, sideEffects{}, myerrors.ErrForbidden
	}

	// A retried request that finds the delivery already in the target state succeeds.
	if d.Status == requested {
		return d, sideEffects{issueCode: requested == model.StatusArrivedAtDropoff}, nil
	}

	if requested == model.StatusAssigned || !d.Status.CanAdvanceTo(requested) {
		return model.Delivery{}, sideEffects{}, fmt.Errorf("%w: %s -> %s", myerrors.ErrInvalidTransition, d.Status, requested)
	}

	if requested == model.StatusDelivered {
		verified, err := ds.codes.HasConsumed(ctx, id)
		if err != nil {
			return model.Delivery{}, sideEffects{}, err
		}
		if !verified {
			return model.Delivery{}, sideEffects{}, myerrors.ErrVerificationRequired
		}
	}

	updated, err := ds.repo.UpdateStatus(ctx, id, d.Status, requested, ds.now().UTC())
	if errors.Is(err, myerrors.ErrConflict) {
		// Another instance moved it first.
		cur, getErr := ds.repo.Get(ctx, id)
		if getErr != nil {
			return model.Delivery{}, sideEffects{}, getErr
		}
		if cur.Status == requested {
			return cur, sideEffects{issueCode: requested == model.StatusArrivedAtDropoff}, nil
		}
		return model.Delivery{}, sideEffects{}, fmt.Errorf("%w: %s -> %s", myerrors.ErrInvalidTransition, cur.Status, requested)
	}
	if err != nil {
		return model.Delivery{}, sideEffects{}, err
	}

	return updated, sideEffects{
		publish:     true,
		transitions: true,
		issueCode:   requested == model.StatusArrivedAtDropoff,
	}, nil
}

func (ds *DeliveryService) Cancel(ctx context.Context, id, reason string, actor model.Actor) (model.Delivery, error) {
	log := ds.mylog.Action("Cancel")

	reason = strings.TrimSpace(reason)
	if len(reason) > maxTextLen {
		return model.Delivery{}, myerrors.Validationf(fmt.Errorf("reason: %w", myerrors.ErrInvalidAddress))
	}

	d, fx, err := ds.cancelLocked(ctx, id, reason, actor)
	if err != nil {
		log.Warn("cancel rejected", "delivery_id", id, "actor_id", actor.ID, "reason", err.Error())
		return model.Delivery{}, err
	}

	log.Info("delivery cancelled", "delivery_id", id, "actor_id", actor.ID, "cancel_reason", reason, "replay", !fx.transitions)
	ds.runSideEffects(ctx, log, d, fx)
	return d, nil
}

func (ds *DeliveryService) cancelLocked(ctx context.Context, id, reason string, actor model.Actor) (model.Delivery, sideEffects, error) {
	unlock := ds.locks.Lock(id)
	defer unlock()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return model.Delivery{}, sideEffects{}, err
	}
	if !actor.Allows(model.AccessDrive, &d) {
		return model.Delivery{}, sideEffects{}, myerrors.ErrForbidden
	}

	if d.Status == model.StatusCancelled {
		return d, sideEffects{}, nil
	}
	if !d.Status.CanCancel() {
		return model.Delivery{}, sideEffects{}, fmt.Errorf("%w: %s -> %s", myerrors.ErrInvalidTransition, d.Status, model.StatusCancelled)
	}

	updated, err := ds.repo.Cancel(ctx, id, reason, ds.now().UTC())
	if errors.Is(err, myerrors.ErrConflict) {
		cur, getErr := ds.repo.Get(ctx, id)
		if getErr != nil {
			return model.Delivery{}, sideEffects{}, getErr
		}
		if cur.Status == model.StatusCancelled {
			return cur, sideEffects{}, nil
		}
		return model.Delivery{}, sideEffects{}, fmt.Errorf("%w: %s -> %s", myerrors.ErrInvalidTransition, cur.Status, model.StatusCancelled)
	}
	if err != nil {
		return model.Delivery{}, sideEffects{}, err
	}

	return updated, sideEffects{
		publish:     true,
		transitions: true,
		reason:      reason,
		invalidate:  true,
	}, nil
}

func (ds *DeliveryService) ReportIssue(ctx context.Context, id string, issueType model.IssueType, description string, actor model.Actor) (model.Delivery, error) {
	log := ds.mylog.Action("ReportIssue")

	issueType = model.IssueType(strings.ToLower(strings.TrimSpace(string(issueType))))
	if !issueType.IsValid() {
		return model.Delivery{}, myerrors.Validationf(fmt.Errorf("%w: %q", myerrors.ErrInvalidIssueType, issueType))
	}
	description = strings.TrimSpace(description)
	if len(description) > 4*maxTextLen {
		return model.Delivery{}, myerrors.Validationf(fmt.Errorf("description: %w", myerrors.ErrInvalidAddress))
	}

	issue := model.Issue{
		Type:        issueType,
		Description: description,
		ReportedBy:  actor.ID,
		ReportedAt:  ds.now().UTC(),
	}

	d, err := ds.appendIssueLocked(ctx, id, issue, actor)
	if err != nil {
		log.Warn("issue rejected", "delivery_id", id, "actor_id", actor.ID, "reason", err.Error())
		return model.Delivery{}, err
	}

	log.Info("issue reported", "delivery_id", id, "issue_type", issueType, "actor_id", actor.ID)

	ev := messagebrokerdto.DeliveryIssue{
		DeliveryID:  d.ID,
		OrderID:     d.OrderID,
		IssueType:   string(issue.Type),
		Description: issue.Description,
		ReportedBy:  issue.ReportedBy,
		Timestamp:   issue.ReportedAt,
	}
	if err := ds.events.IssueReported(ctx, ev); err != nil {
		log.Error("cannot publish issue event", err, "delivery_id", id)
	}
	return d, nil
}

func (ds *DeliveryService) appendIssueLocked(ctx context.Context, id string, issue model.Issue, actor model.Actor) (model.Delivery, error) {
	unlock := ds.locks.Lock(id)
	defer unlock()

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return model.Delivery{}, err
	}
	if !actor.Allows(model.AccessDrive, &d) {
		return model.Delivery{}, myerrors.ErrForbidden
	}
	if d.Status.IsTerminal() {
		return model.Delivery{}, myerrors.ErrDeliveryNotActive
	}

	return ds.repo.AppendIssue(ctx, id, issue)
}

func (ds *DeliveryService) runSideEffects(ctx context.Context, log mylogger.Logger, d model.Delivery, fx sideEffects) {
	if fx.transitions {
		ds.metrics.TransitionsTotal.WithLabelValues(d.Status.String()).Inc()
	}

	if fx.invalidate {
		if err := ds.codes.InvalidateAll(ctx, d.ID, ds.now().UTC()); err != nil {
			log.Error("cannot invalidate verification codes", err, "delivery_id", d.ID)
		}
	}

	// Issuing the code is best effort: the transition is already committed and
	// a retried transition or an explicit resend issues it again.
	if fx.issueCode && ds.handoff != nil {
		if err := ds.handoff.EnsureIssued(ctx, d.ID); err != nil {
			log.Error("cannot issue verification code", err, "delivery_id", d.ID)
		}
	}

	if fx.publish {
		ds.publishStatus(ctx, d, fx.reason)
	}
}

func (ds *DeliveryService) publishStatus(ctx context.Context, d model.Delivery, reason string) {
	ev := messagebrokerdto.DeliveryStatus{
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		Status:     d.Status.String(),
		DriverID:   d.DriverID,
		Reason:     reason,
		Timestamp:  d.StatusUpdatedAt,
	}
	if err := ds.events.StatusChanged(ctx, ev); err != nil {
		ds.mylog.Action("publish").Error("cannot publish status event", err, "delivery_id", d.ID, "status", d.Status)
	}
}
