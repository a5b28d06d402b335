package model

// ETA is a straight-line estimate. It ignores the road network.
type ETA struct {
	DeliveryID  string
	Seconds     int64
	Formatted   string
	DistanceKm  float64
	SpeedKmh    float64
	Destination GeoPoint
	Location    LocationSample
}
