package model

import "strings"

type DeliveryStatus string

const (
	StatusPending          DeliveryStatus = "pending"
	StatusAssigned         DeliveryStatus = "assigned"
	StatusEnRouteToPickup  DeliveryStatus = "en_route_to_pickup"
	StatusArrivedAtPickup  DeliveryStatus = "arrived_at_pickup"
	StatusPickedUp         DeliveryStatus = "picked_up"
	StatusEnRouteToDropoff DeliveryStatus = "en_route_to_dropoff"
	StatusArrivedAtDropoff DeliveryStatus = "arrived_at_dropoff"
	StatusDelivered        DeliveryStatus = "delivered"
	StatusCancelled        DeliveryStatus = "cancelled"
)

// successor is the forward edge of every non-terminal status. Cancellation is handled separately.
var successor = map[DeliveryStatus]DeliveryStatus{
	StatusPending:          StatusAssigned,
	StatusAssigned:         StatusEnRouteToPickup,
	StatusEnRouteToPickup:  StatusArrivedAtPickup,
	StatusArrivedAtPickup:  StatusPickedUp,
	StatusPickedUp:         StatusEnRouteToDropoff,
	StatusEnRouteToDropoff: StatusArrivedAtDropoff,
	StatusArrivedAtDropoff: StatusDelivered,
}

// AllStatuses lists every status in lifecycle order, cancelled last.
var AllStatuses = []DeliveryStatus{
	StatusPending,
	StatusAssigned,
	StatusEnRouteToPickup,
	StatusArrivedAtPickup,
	StatusPickedUp,
	StatusEnRouteToDropoff,
	StatusArrivedAtDropoff,
	StatusDelivered,
	StatusCancelled,
}

func ParseStatus(s string) (DeliveryStatus, bool) {
	st := DeliveryStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.IsValid()
}

func (s DeliveryStatus) IsValid() bool {
	_, ok := successor[s]
	return ok || s == StatusDelivered || s == StatusCancelled
}

func (s DeliveryStatus) String() string {
	return string(s)
}

func (s DeliveryStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsTracking reports whether a driver is working the delivery, so location samples are expected.
func (s DeliveryStatus) IsTracking() bool {
	return !s.IsTerminal() && s != StatusPending && s.IsValid()
}

// Next returns the unique forward successor.
func (s DeliveryStatus) Next() (DeliveryStatus, bool) {
	n, ok := successor[s]
	return n, ok
}

// CanAdvanceTo reports whether to is the forward successor of s.
func (s DeliveryStatus) CanAdvanceTo(to DeliveryStatus) bool {
	n, ok := successor[s]
	return ok && n == to
}

// CanCancel reports whether s may move to cancelled.
func (s DeliveryStatus) CanCancel() bool {
	return s.IsValid() && !s.IsTerminal()
}

// Rank orders statuses along the forward path. Cancelled ranks after everything.
func (s DeliveryStatus) Rank() int {
	for i, st := range AllStatuses {
		if st == s {
			return i
		}
	}
	return -1
}
