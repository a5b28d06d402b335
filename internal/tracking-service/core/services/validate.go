package services

import (
	"math"
	"strings"

	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
)

const maxTextLen = 255

func validateLatLng(lat, lng *float64) error {
	if lat == nil || lng == nil {
		return myerrors.ErrEmptyField
	}
	if math.IsNaN(*lat) || math.Abs(*lat) > 90 {
		return myerrors.ErrInvalidLatitude
	}
	if math.IsNaN(*lng) || math.Abs(*lng) > 180 {
		return myerrors.ErrInvalidLongitude
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validatePoint(p model.GeoPoint) error {
	return validateLatLng(&p.Latitude, &p.Longitude)
}

func validateAddress(s *string) error {
	if s == nil || strings.TrimSpace(*s) == "" {
		return myerrors.ErrEmptyField
	}
	if len(*s) > maxTextLen {
		return myerrors.ErrInvalidAddress
	}
	return nil
}

func validatePlace(p dto.PlaceRequest) (model.Place, error) {
	if err := validateLatLng(p.Latitude, p.Longitude); err != nil {
		return model.Place{}, err
	}
	if err := validateAddress(p.Address); err != nil {
		return model.Place{}, err
	}
	return model.Place{
		Point:   model.GeoPoint{Latitude: *p.Latitude, Longitude: *p.Longitude},
		Address: strings.TrimSpace(*p.Address),
	}, nil
}

// validateMeasurement accepts a missing value or a finite non-negative one.
func validateMeasurement(v *float64, max float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 || *v > max {
		return myerrors.ErrInvalidMeasurement
	}
	return nil
}
