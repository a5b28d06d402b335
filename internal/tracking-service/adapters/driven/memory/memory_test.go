package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newDelivery(id, orderID string) model.Delivery {
	return model.Delivery{
		ID:              id,
		OrderID:         orderID,
		Status:          model.StatusPending,
		Priority:        1,
		CreatedAt:       t0,
		StatusUpdatedAt: t0,
	}
}

func TestDeliveryRepoCreateIsIdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	r := NewDeliveryRepo()

	first, created, err := r.Create(ctx, newDelivery("d1", "o1"))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	again, created, err := r.Create(ctx, newDelivery("d2", "o1"))
	if err != nil {
		t.Fatal(err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("second create returned %s created=%v, want existing %s", again.ID, created, first.ID)
	}
}

func TestDeliveryRepoAssign(t *testing.T) {
	ctx := context.Background()
	r := NewDeliveryRepo()
	r.Create(ctx, newDelivery("d1", "o1"))
	r.Create(ctx, newDelivery("d2", "o2"))

	d, err := r.Assign(ctx, "d1", "drv-1", t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != model.StatusAssigned || d.DriverID != "drv-1" {
		t.Fatalf("unexpected delivery after assign: %+v", d)
	}

	if _, err := r.Assign(ctx, "d1", "drv-2", t0); !errors.Is(err, myerrors.ErrAlreadyAssigned) {
		t.Fatalf("reassign err = %v, want ErrAlreadyAssigned", err)
	}
	if _, err := r.Assign(ctx, "d2", "drv-1", t0); !errors.Is(err, myerrors.ErrDriverBusy) {
		t.Fatalf("busy driver err = %v, want ErrDriverBusy", err)
	}
	if _, err := r.Assign(ctx, "missing", "drv-3", t0); !errors.Is(err, myerrors.ErrDeliveryNotFound) {
		t.Fatalf("missing err = %v, want ErrDeliveryNotFound", err)
	}
}

func TestDeliveryRepoAssignConcurrent(t *testing.T) {
	ctx := context.Background()
	r := NewDeliveryRepo()
	r.Create(ctx, newDelivery("d1", "o1"))

	const drivers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Assign(ctx, "d1", string(rune('a'+i)), t0)
			if err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("%d drivers won, want exactly 1", won)
	}
}

func TestDeliveryRepoUpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	r := NewDeliveryRepo()
	r.Create(ctx, newDelivery("d1", "o1"))
	r.Assign(ctx, "d1", "drv-1", t0)

	if _, err := r.UpdateStatus(ctx, "d1", model.StatusPending, model.StatusEnRouteToPickup, t0); !errors.Is(err, myerrors.ErrConflict) {
		t.Fatalf("stale from err = %v, want ErrConflict", err)
	}
	d, err := r.UpdateStatus(ctx, "d1", model.StatusAssigned, model.StatusEnRouteToPickup, t0.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != model.StatusEnRouteToPickup || !d.StatusUpdatedAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

func TestDeliveryRepoCancelClearsDriver(t *testing.T) {
	ctx := context.Background()
	r := NewDeliveryRepo()
	r.Create(ctx, newDelivery("d1", "o1"))
	r.Assign(ctx, "d1", "drv-1", t0)

	d, err := r.Cancel(ctx, "d1", "customer left", t0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != model.StatusCancelled || d.DriverID != "" || d.CancelReason != "customer left" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if _, err := r.Cancel(ctx, "d1", "", t0); !errors.Is(err, myerrors.ErrConflict) {
		t.Fatalf("second cancel err = %v, want ErrConflict", err)
	}
	if _, err := r.ActiveByDriver(ctx, "drv-1"); !errors.Is(err, myerrors.ErrDeliveryNotFound) {
		t.Fatalf("active after cancel err = %v", err)
	}
}

func TestDeliveryRepoReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewDeliveryRepo()
	r.Create(ctx, newDelivery("d1", "o1"))
	r.AppendIssue(ctx, "d1", model.Issue{Type: model.IssueOther})

	d, _ := r.Get(ctx, "d1")
	d.Issues[0].Description = "changed"

	again, _ := r.Get(ctx, "d1")
	if again.Issues[0].Description != "" {
		t.Fatal("caller mutation leaked into the repository")
	}
}

func TestDeliveryRepoListTerminalBefore(t *testing.T) {
	ctx := context.Background()
	r := NewDeliveryRepo()
	r.Create(ctx, newDelivery("old", "o1"))
	r.Create(ctx, newDelivery("recent", "o2"))
	r.Create(ctx, newDelivery("open", "o3"))
	r.Cancel(ctx, "old", "", t0)
	r.Cancel(ctx, "recent", "", t0.Add(2*time.Hour))

	ids, err := r.ListTerminalBefore(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("ids = %v, want [old]", ids)
	}
}

func TestDeliveryRepoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDeliveryRepo().Get(ctx, "d1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func sample(deliveryID string, lat float64, received time.Time) model.LocationSample {
	return model.LocationSample{
		ID:         received.String(),
		DeliveryID: deliveryID,
		Latitude:   lat,
		Longitude:  76.9,
		CapturedAt: received,
		ReceivedAt: received,
	}
}

func TestLocationRepoLatestIsMaxReceivedAt(t *testing.T) {
	ctx := context.Background()
	r := NewLocationRepo()

	if _, err := r.Latest(ctx, "d1"); !errors.Is(err, myerrors.ErrNoLocation) {
		t.Fatalf("empty err = %v, want ErrNoLocation", err)
	}

	r.Append(ctx, sample("d1", 43.2, t0.Add(2*time.Second)), 10)
	r.Append(ctx, sample("d1", 43.1, t0), 10)

	got, err := r.Latest(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Latitude != 43.2 {
		t.Fatalf("latest latitude = %v, want 43.2", got.Latitude)
	}
}

func TestLocationRepoPrunesOldest(t *testing.T) {
	ctx := context.Background()
	r := NewLocationRepo()
	for i := 0; i < 5; i++ {
		r.Append(ctx, sample("d1", float64(i), t0.Add(time.Duration(i)*time.Second)), 3)
	}

	hist, err := r.History(ctx, "d1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Fatalf("history len = %d, want 3", len(hist))
	}
	if hist[0].Latitude != 4 || hist[2].Latitude != 2 {
		t.Fatalf("history not newest first: %v, %v", hist[0].Latitude, hist[2].Latitude)
	}
}

func TestLocationRepoLatestInBox(t *testing.T) {
	ctx := context.Background()
	r := NewLocationRepo()
	r.Append(ctx, sample("inside", 43.2, t0), 10)
	r.Append(ctx, sample("moved-out", 43.2, t0), 10)
	r.Append(ctx, sample("moved-out", 50, t0.Add(time.Second)), 10)

	got, err := r.LatestInBox(ctx, driven.BoundingBox{MinLat: 43, MaxLat: 44, MinLng: 76, MaxLng: 77})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DeliveryID != "inside" {
		t.Fatalf("got %+v, want only the inside delivery", got)
	}
}

func TestLocationRepoDeleteByDeliveries(t *testing.T) {
	ctx := context.Background()
	r := NewLocationRepo()
	r.Append(ctx, sample("d1", 1, t0), 10)
	r.Append(ctx, sample("d1", 2, t0.Add(time.Second)), 10)
	r.Append(ctx, sample("d2", 3, t0), 10)

	n, err := r.DeleteByDeliveries(ctx, []string{"d1"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if _, ok, _ := r.LastCapturedAt(ctx, "d1"); ok {
		t.Fatal("d1 still has samples")
	}
	if _, ok, _ := r.LastCapturedAt(ctx, "d2"); !ok {
		t.Fatal("d2 lost its samples")
	}
}

func code(id, deliveryID string, issued time.Time) model.VerificationCode {
	return model.VerificationCode{
		ID:         id,
		DeliveryID: deliveryID,
		CodeHash:   []byte("hash-" + id),
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(15 * time.Minute),
	}
}

func TestVerificationRepoIssueReplacesOpenCode(t *testing.T) {
	ctx := context.Background()
	r := NewVerificationRepo()
	r.Issue(ctx, code("c1", "d1", t0))
	r.Issue(ctx, code("c2", "d1", t0.Add(time.Minute)))

	open, err := r.Open(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if open.ID != "c2" {
		t.Fatalf("open code = %s, want c2", open.ID)
	}
	if n, _ := r.CountIssued(ctx, "d1"); n != 2 {
		t.Fatalf("issued = %d, want 2", n)
	}
	if err := r.Consume(ctx, "c1", t0.Add(2*time.Minute)); !errors.Is(err, myerrors.ErrInvalidCode) {
		t.Fatalf("consume replaced code err = %v, want ErrInvalidCode", err)
	}
}

func TestVerificationRepoRecordFailureBurns(t *testing.T) {
	ctx := context.Background()
	r := NewVerificationRepo()
	r.Issue(ctx, code("c1", "d1", t0))

	for i := 1; i <= 3; i++ {
		attempts, burned, err := r.RecordFailure(ctx, "c1", 3, t0)
		if err != nil {
			t.Fatal(err)
		}
		if attempts != i || burned != (i == 3) {
			t.Fatalf("attempt %d: attempts=%d burned=%v", i, attempts, burned)
		}
	}
	if _, err := r.Open(ctx, "d1"); !errors.Is(err, myerrors.ErrNoOpenCode) {
		t.Fatalf("open after burn err = %v, want ErrNoOpenCode", err)
	}
}

func TestVerificationRepoConsumeOnce(t *testing.T) {
	ctx := context.Background()
	r := NewVerificationRepo()
	r.Issue(ctx, code("c1", "d1", t0))

	if err := r.Consume(ctx, "c1", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := r.Consume(ctx, "c1", t0.Add(time.Minute)); !errors.Is(err, myerrors.ErrInvalidCode) {
		t.Fatalf("second consume err = %v, want ErrInvalidCode", err)
	}
	if ok, _ := r.HasConsumed(ctx, "d1"); !ok {
		t.Fatal("HasConsumed = false after consume")
	}
}

func TestVerificationRepoConsumeExpired(t *testing.T) {
	ctx := context.Background()
	r := NewVerificationRepo()
	r.Issue(ctx, code("c1", "d1", t0))

	if err := r.Consume(ctx, "c1", t0.Add(time.Hour)); !errors.Is(err, myerrors.ErrInvalidCode) {
		t.Fatalf("expired consume err = %v, want ErrInvalidCode", err)
	}
}

func TestVerificationRepoInvalidateAll(t *testing.T) {
	ctx := context.Background()
	r := NewVerificationRepo()
	r.Issue(ctx, code("c1", "d1", t0))
	r.InvalidateAll(ctx, "d1", t0)

	if _, err := r.Open(ctx, "d1"); !errors.Is(err, myerrors.ErrNoOpenCode) {
		t.Fatalf("open after invalidate err = %v", err)
	}
}
