package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/adapters/driven/memory"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	messagebrokerdto "pharmacy-delivery/internal/tracking-service/core/domain/message_broker_dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"

	"golang.org/x/crypto/bcrypt"
)

var (
	almatyPharmacy = model.GeoPoint{Latitude: 43.2380, Longitude: 76.8890}
	almatyCustomer = model.GeoPoint{Latitude: 43.2567, Longitude: 76.9286}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEvents struct {
	mu       sync.Mutex
	statuses []messagebrokerdto.DeliveryStatus
	issues   []messagebrokerdto.DeliveryIssue
}

func (f *fakeEvents) StatusChanged(ctx context.Context, ev messagebrokerdto.DeliveryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, ev)
	return nil
}

func (f *fakeEvents) IssueReported(ctx context.Context, ev messagebrokerdto.DeliveryIssue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, ev)
	return nil
}

func (f *fakeEvents) statusesOf(deliveryID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.statuses {
		if ev.DeliveryID == deliveryID {
			out = append(out, ev.Status)
		}
	}
	return out
}

// fakeNotifier keeps the plaintext codes so tests can play the customer.
type fakeNotifier struct {
	mu    sync.Mutex
	codes map[string][]string
}

func (f *fakeNotifier) SendCode(ctx context.Context, ev messagebrokerdto.VerificationIssued) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes == nil {
		f.codes = make(map[string][]string)
	}
	f.codes[ev.DeliveryID] = append(f.codes[ev.DeliveryID], ev.Code)
	return nil
}

func (f *fakeNotifier) last(deliveryID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := f.codes[deliveryID]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

func (f *fakeNotifier) count(deliveryID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.codes[deliveryID])
}

type fixture struct {
	*Services
	cfg        *config.Trackingconfig
	clock      *fakeClock
	events     *fakeEvents
	notifier   *fakeNotifier
	metrics    *metrics.Metrics
	deliveries *memory.DeliveryRepo
	locations  *memory.LocationRepo
	codes      *memory.VerificationRepo
}

func newFixture(t *testing.T, tweak ...func(*config.Trackingconfig)) *fixture {
	t.Helper()

	cfg := config.DefaultTracking()
	cfg.CodeHashCost = bcrypt.MinCost
	for _, fn := range tweak {
		fn(cfg)
	}

	f := &fixture{
		cfg:        cfg,
		clock:      &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		events:     &fakeEvents{},
		notifier:   &fakeNotifier{},
		metrics:    metrics.New(),
		deliveries: memory.NewDeliveryRepo(),
		locations:  memory.NewLocationRepo(),
		codes:      memory.NewVerificationRepo(),
	}

	svc, err := New(Deps{
		Deliveries:    f.deliveries,
		Locations:     f.locations,
		Verifications: f.codes,
		Events:        f.events,
		Codes:         f.notifier,
		Metrics:       f.metrics,
		Log:           mylogger.NewNop(),
		Cfg:           cfg,
		Now:           f.clock.Now,
	})
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	f.Services = svc
	return f
}

func ptr[T any](v T) *T {
	return &v
}

func createRequest(orderID string, priority int, pickup, dropoff model.GeoPoint) dto.CreateDeliveryRequest {
	return dto.CreateDeliveryRequest{
		OrderID:    ptr(orderID),
		CustomerID: "cust-1",
		Priority:   ptr(priority),
		Pickup: dto.PlaceRequest{
			Latitude:  ptr(pickup.Latitude),
			Longitude: ptr(pickup.Longitude),
			Address:   ptr("Abay Ave 10"),
		},
		Dropoff: dto.PlaceRequest{
			Latitude:  ptr(dropoff.Latitude),
			Longitude: ptr(dropoff.Longitude),
			Address:   ptr("Dostyk Ave 85"),
		},
	}
}

func (f *fixture) create(t *testing.T, orderID string) model.Delivery {
	t.Helper()
	d, _, err := f.Delivery.Create(context.Background(), createRequest(orderID, 5, almatyPharmacy, almatyCustomer))
	if err != nil {
		t.Fatalf("create %s: %v", orderID, err)
	}
	return d
}

func driverActor(id string) model.Actor {
	return model.Actor{ID: id, Role: model.RoleDriver}
}

var dispatcher = model.Actor{ID: "disp-1", Role: model.RoleDispatcher}

// advance accepts the delivery for driverID (if still pending) and walks it forward to target.
func (f *fixture) advance(t *testing.T, id, driverID string, target model.DeliveryStatus) model.Delivery {
	t.Helper()
	ctx := context.Background()

	d, err := f.Delivery.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status == model.StatusPending && target != model.StatusPending {
		if d, err = f.Dispatch.Accept(ctx, id, driverID); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	for d.Status != target {
		next, ok := d.Status.Next()
		if !ok {
			t.Fatalf("cannot reach %s from %s", target, d.Status)
		}
		if next == model.StatusDelivered {
			if err := f.Verification.Verify(ctx, id, f.notifier.last(id), model.Actor{ID: "cust-1", Role: model.RoleCustomer}); err != nil {
				t.Fatalf("verify: %v", err)
			}
		}
		if d, err = f.Delivery.Transition(ctx, id, next, driverActor(driverID)); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	return d
}

func locationAt(p model.GeoPoint, captured time.Time) dto.LocationRequest {
	return dto.LocationRequest{
		Latitude:   ptr(p.Latitude),
		Longitude:  ptr(p.Longitude),
		CapturedAt: ptr(captured),
	}
}

func wrongCode(code string) string {
	b := []byte(code)
	b[0] = '0' + (b[0]-'0'+1)%10
	return string(b)
}

func orderID(i int) string {
	return fmt.Sprintf("order-%03d", i)
}
