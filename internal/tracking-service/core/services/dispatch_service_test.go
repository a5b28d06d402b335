package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAcceptConcurrentHasOneWinner(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "order-1")

	const drivers = 25
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		won    []string
		others []error
	)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.Dispatch.Accept(context.Background(), d.ID, id)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won = append(won, id)
				return
			}
			others = append(others, err)
		}(orderID(i))
	}
	wg.Wait()

	if len(won) != 1 {
		t.Fatalf("winners = %v, want exactly one", won)
	}
	for _, err := range others {
		if !errors.Is(err, myerrors.ErrAlreadyAssigned) {
			t.Fatalf("loser err = %v, want ErrAlreadyAssigned", err)
		}
	}

	cur, _ := f.Delivery.Get(context.Background(), d.ID)
	if cur.DriverID != won[0] || cur.Status != model.StatusAssigned {
		t.Fatalf("stored delivery = %+v, winner %s", cur, won[0])
	}
	if v := testutil.ToFloat64(f.metrics.AcceptTotal.WithLabelValues("lost")); v != drivers-1 {
		t.Fatalf("lost counter = %v, want %d", v, drivers-1)
	}
}

func TestAcceptRetryByWinnerSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.create(t, "order-1")

	if _, err := f.Dispatch.Accept(ctx, d.ID, "drv-1"); err != nil {
		t.Fatal(err)
	}
	got, err := f.Dispatch.Accept(ctx, d.ID, "drv-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.DriverID != "drv-1" {
		t.Fatalf("driver = %s", got.DriverID)
	}
}

func TestAcceptDriverBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, "order-1")
	second := f.create(t, "order-2")

	if _, err := f.Dispatch.Accept(ctx, first.ID, "drv-1"); err != nil {
		t.Fatal(err)
	}
	_, err := f.Dispatch.Accept(ctx, second.ID, "drv-1")
	if !errors.Is(err, myerrors.ErrDriverBusy) || !errors.Is(err, myerrors.ErrConflict) {
		t.Fatalf("err = %v, want ErrDriverBusy", err)
	}

	cur, _ := f.Delivery.Get(ctx, second.ID)
	if cur.Status != model.StatusPending || cur.HasDriver() {
		t.Fatalf("second delivery changed: %+v", cur)
	}
}

func TestAcceptUnknownDelivery(t *testing.T) {
	f := newFixture(t)
	_, err := f.Dispatch.Accept(context.Background(), "missing", "drv-1")
	if !errors.Is(err, myerrors.ErrDeliveryNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListAvailableOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driverAt := model.GeoPoint{Latitude: 43.2380, Longitude: 76.8890}

	near := model.GeoPoint{Latitude: 43.2390, Longitude: 76.8900}
	far := model.GeoPoint{Latitude: 43.2800, Longitude: 76.9500}
	outOfRange := model.GeoPoint{Latitude: 43.6000, Longitude: 77.5000}

	mk := func(order string, priority int, pickup model.GeoPoint) string {
		d, _, err := f.Delivery.Create(ctx, createRequest(order, priority, pickup, almatyCustomer))
		if err != nil {
			t.Fatal(err)
		}
		return d.ID
	}
	lowNear := mk("low-near", 2, near)
	highFar := mk("high-far", 8, far)
	highNear := mk("high-near", 8, near)
	mk("too-far", 10, outOfRange)
	taken := mk("taken", 9, near)
	if _, err := f.Dispatch.Accept(ctx, taken, "drv-x"); err != nil {
		t.Fatal(err)
	}

	got, err := f.Dispatch.ListAvailable(ctx, driverAt, driver.AvailableFilter{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{highNear, highFar, lowNear}
	if len(got) != len(want) {
		t.Fatalf("got %d deliveries, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].Delivery.ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].Delivery.ID, id)
		}
	}

	filtered, err := f.Dispatch.ListAvailable(ctx, driverAt, driver.AvailableFilter{Priority: ptr(2)})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Delivery.ID != lowNear {
		t.Fatalf("priority filter returned %+v", filtered)
	}
}

func TestListAvailableValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.Dispatch.ListAvailable(ctx, model.GeoPoint{Latitude: 95}, driver.AvailableFilter{}); !errors.Is(err, myerrors.ErrInvalidLatitude) {
		t.Fatalf("latitude err = %v", err)
	}
	if _, err := f.Dispatch.ListAvailable(ctx, almatyPharmacy, driver.AvailableFilter{MaxDistanceKm: -1}); !errors.Is(err, myerrors.ErrInvalidRadius) {
		t.Fatalf("radius err = %v", err)
	}
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := f.Dispatch.ListAvailable(ctx, almatyPharmacy, driver.AvailableFilter{MaxDistanceKm: bad}); !errors.Is(err, myerrors.ErrInvalidRadius) {
			t.Fatalf("max distance %v err = %v", bad, err)
		}
	}
	if _, err := f.Dispatch.ListAvailable(ctx, almatyPharmacy, driver.AvailableFilter{Priority: ptr(0)}); !errors.Is(err, myerrors.ErrInvalidPriority) {
		t.Fatalf("priority err = %v", err)
	}
}
