package services

import (
	"math"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/ports/driven"
)

const (
	EarthRadiusKm = 6371.0088
	kmPerDegree   = math.Pi * EarthRadiusKm / 180
)

// HaversineKm is the great-circle distance between a and b.
func HaversineKm(a, b model.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// boundingBox returns a box containing every point within radiusKm of center.
// Near the poles or across the antimeridian the longitude range widens to the full circle.
func boundingBox(center model.GeoPoint, radiusKm float64) driven.BoundingBox {
	dLat := radiusKm / kmPerDegree
	box := driven.BoundingBox{
		MinLat: math.Max(-90, center.Latitude-dLat),
		MaxLat: math.Min(90, center.Latitude+dLat),
		MinLng: -180,
		MaxLng: 180,
	}

	cosLat := math.Cos(center.Latitude * math.Pi / 180)
	if box.MinLat <= -90 || box.MaxLat >= 90 || cosLat < 1e-6 {
		return box
	}
	dLng := dLat / cosLat
	if center.Longitude-dLng < -180 || center.Longitude+dLng > 180 {
		return box
	}
	box.MinLng = center.Longitude - dLng
	box.MaxLng = center.Longitude + dLng
	return box
}

const Epsilon = 1e-9

func IsCloseToZero(f float64) bool {
	return math.Abs(f) < Epsilon
}
