package dto

import (
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
)

type PlaceRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   *string  `json:"address"`
}

type CreateDeliveryRequest struct {
	OrderID    *string      `json:"orderId"`
	CustomerID string       `json:"customerId"`
	Priority   *int         `json:"priority"`
	Pickup     PlaceRequest `json:"pickup"`
	Dropoff    PlaceRequest `json:"dropoff"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type AssignRequest struct {
	DriverID string `json:"driverId"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type IssueRequest struct {
	IssueType   string `json:"issueType"`
	Description string `json:"description"`
}

type Place struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type Issue struct {
	IssueType   string    `json:"issueType"`
	Description string    `json:"description"`
	ReportedBy  string    `json:"reportedBy"`
	ReportedAt  time.Time `json:"reportedAt"`
}

type DeliveryResponse struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"orderId"`
	CustomerID      string    `json:"customerId,omitempty"`
	Status          string    `json:"status"`
	DriverID        string    `json:"driverId,omitempty"`
	Priority        int       `json:"priority"`
	Pickup          Place     `json:"pickup"`
	Dropoff         Place     `json:"dropoff"`
	CreatedAt       time.Time `json:"createdAt"`
	StatusUpdatedAt time.Time `json:"statusUpdatedAt"`
	CancelReason    string    `json:"cancelReason,omitempty"`
	Issues          []Issue   `json:"issues"`
	PollIntervalMs  int64     `json:"pollIntervalMs,omitempty"`
}

type AvailableDeliveryResponse struct {
	DeliveryResponse
	DistanceKm float64 `json:"distanceKm"`
}

func NewPlace(p model.Place) Place {
	return Place{
		Latitude:  p.Point.Latitude,
		Longitude: p.Point.Longitude,
		Address:   p.Address,
	}
}

func NewDeliveryResponse(d model.Delivery, pollInterval time.Duration) DeliveryResponse {
	issues := make([]Issue, 0, len(d.Issues))
	for _, i := range d.Issues {
		issues = append(issues, Issue{
			IssueType:   string(i.Type),
			Description: i.Description,
			ReportedBy:  i.ReportedBy,
			ReportedAt:  i.ReportedAt,
		})
	}

	return DeliveryResponse{
		ID:              d.ID,
		OrderID:         d.OrderID,
		CustomerID:      d.CustomerID,
		Status:          d.Status.String(),
		DriverID:        d.DriverID,
		Priority:        d.Priority,
		Pickup:          NewPlace(d.Pickup),
		Dropoff:         NewPlace(d.Dropoff),
		CreatedAt:       d.CreatedAt,
		StatusUpdatedAt: d.StatusUpdatedAt,
		CancelReason:    d.CancelReason,
		Issues:          issues,
		PollIntervalMs:  pollInterval.Milliseconds(),
	}
}
