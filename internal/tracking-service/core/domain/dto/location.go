package dto

import (
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
)

// LocationRequest is one sample pushed by a driver device. Speed is in m/s, heading in degrees.
type LocationRequest struct {
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	CapturedAt *time.Time `json:"capturedAt"`
	Accuracy   *float64   `json:"accuracy,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	Heading    *float64   `json:"heading,omitempty"`
}

type LocationResponse struct {
	DeliveryID string    `json:"deliveryId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
	ReceivedAt time.Time `json:"receivedAt"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
}

type RecordResponse struct {
	DeliveryID string    `json:"deliveryId"`
	Result     string    `json:"result"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type HistoryResponse struct {
	DeliveryID string             `json:"deliveryId"`
	Samples    []LocationResponse `json:"samples"`
}

type NearbyDeliveryResponse struct {
	DeliveryID string           `json:"deliveryId"`
	OrderID    string           `json:"orderId"`
	Status     string           `json:"status"`
	DriverID   string           `json:"driverId,omitempty"`
	DistanceKm float64          `json:"distanceKm"`
	Location   LocationResponse `json:"location"`
}

type ETAResponse struct {
	DeliveryID   string           `json:"deliveryId"`
	EtaSeconds   int64            `json:"etaSeconds"`
	EtaFormatted string           `json:"etaFormatted"`
	DistanceKm   float64          `json:"distanceKm"`
	Destination  Place            `json:"destination"`
	Location     LocationResponse `json:"location"`
}

func NewLocationResponse(s model.LocationSample) LocationResponse {
	return LocationResponse{
		DeliveryID: s.DeliveryID,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		CapturedAt: s.CapturedAt,
		ReceivedAt: s.ReceivedAt,
		Accuracy:   s.Accuracy,
		Speed:      s.Speed,
		Heading:    s.Heading,
	}
}

func NewETAResponse(e model.ETA) ETAResponse {
	return ETAResponse{
		DeliveryID:   e.DeliveryID,
		EtaSeconds:   e.Seconds,
		EtaFormatted: e.Formatted,
		DistanceKm:   e.DistanceKm,
		Destination: Place{
			Latitude:  e.Destination.Latitude,
			Longitude: e.Destination.Longitude,
		},
		Location: NewLocationResponse(e.Location),
	}
}
