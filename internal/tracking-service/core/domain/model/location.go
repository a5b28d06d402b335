package model

import "time"

// LocationSample is one GPS reading. Speed is in metres per second.
type LocationSample struct {
	ID         string
	DeliveryID string
	Latitude   float64
	Longitude  float64
	CapturedAt time.Time
	ReceivedAt time.Time
	Accuracy   *float64
	Speed      *float64
	Heading    *float64
}

func (s LocationSample) Point() GeoPoint {
	return GeoPoint{Latitude: s.Latitude, Longitude: s.Longitude}
}

// NearbyDelivery is a delivery whose current location is inside a search radius.
type NearbyDelivery struct {
	Delivery   Delivery
	Location   LocationSample
	DistanceKm float64
}
