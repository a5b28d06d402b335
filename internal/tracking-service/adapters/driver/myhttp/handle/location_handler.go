package handle

import (
	"fmt"
	"math"
	"net/http"

	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"
)

type LocationHandler struct {
	deliveries driver.IDeliveryService
	locations  driver.ILocationService
	eta        driver.IETAService
	log        mylogger.Logger
}

func NewLocationHandler(ds driver.IDeliveryService, ls driver.ILocationService, es driver.IETAService, log mylogger.Logger) *LocationHandler {
	return &LocationHandler{
		deliveries: ds,
		locations:  ls,
		eta:        es,
		log:        log,
	}
}

// RecordLocation answers 201 when the sample was stored and 202 when it was coalesced.
func (lh *LocationHandler) RecordLocation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		id := r.PathValue("id")

		req := dto.LocationRequest{}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, lh.log, err)
			return
		}

		if _, err := lh.deliveries.Authorize(r.Context(), id, actor, model.AccessDrive); err != nil {
			writeError(w, lh.log, err)
			return
		}

		result, sample, err := lh.locations.Record(r.Context(), id, req)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}

		code := http.StatusCreated
		if result == driver.RecordCoalesced {
			code = http.StatusAccepted
		}
		jsonResponse(w, code, dto.RecordResponse{
			DeliveryID: id,
			Result:     string(result),
			ReceivedAt: sample.ReceivedAt,
		})
	}
}

func (lh *LocationHandler) CurrentLocation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		id := r.PathValue("id")

		if _, err := lh.deliveries.Authorize(r.Context(), id, actor, model.AccessRead); err != nil {
			writeError(w, lh.log, err)
			return
		}

		sample, err := lh.locations.CurrentLocation(r.Context(), id)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewLocationResponse(sample))
	}
}

func (lh *LocationHandler) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		id := r.PathValue("id")

		limit, _, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, lh.log, err)
			return
		}

		if _, err := lh.deliveries.Authorize(r.Context(), id, actor, model.AccessRead); err != nil {
			writeError(w, lh.log, err)
			return
		}

		samples, err := lh.locations.History(r.Context(), id, limit)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}

		res := dto.HistoryResponse{
			DeliveryID: id,
			Samples:    make([]dto.LocationResponse, 0, len(samples)),
		}
		for _, s := range samples {
			res.Samples = append(res.Samples, dto.NewLocationResponse(s))
		}
		jsonResponse(w, http.StatusOK, res)
	}
}

// ETA uses the delivery's current leg unless both destination parameters are given.
func (lh *LocationHandler) ETA() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		id := r.PathValue("id")

		lat, hasLat, err := queryFloat(r, "destinationLat", false)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}
		lng, hasLng, err := queryFloat(r, "destinationLng", false)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}

		var dest *model.GeoPoint
		if hasLat || hasLng {
			if dest, err = requirePair(lat, hasLat, lng, hasLng); err != nil {
				writeError(w, lh.log, err)
				return
			}
		}

		if _, err := lh.deliveries.Authorize(r.Context(), id, actor, model.AccessRead); err != nil {
			writeError(w, lh.log, err)
			return
		}

		eta, err := lh.eta.Estimate(r.Context(), id, dest)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewETAResponse(eta))
	}
}

func (lh *LocationHandler) Nearby() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		point, err := queryPoint(r, "latitude", "longitude")
		if err != nil {
			writeError(w, lh.log, err)
			return
		}
		radius, _, err := queryFloat(r, "radius", true)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}

		list, err := lh.locations.Nearby(r.Context(), point, radius)
		if err != nil {
			writeError(w, lh.log, err)
			return
		}

		res := make([]dto.NearbyDeliveryResponse, 0, len(list))
		for _, n := range list {
			res = append(res, dto.NearbyDeliveryResponse{
				DeliveryID: n.Delivery.ID,
				OrderID:    n.Delivery.OrderID,
				Status:     n.Delivery.Status.String(),
				DriverID:   n.Delivery.DriverID,
				DistanceKm: roundKm(n.DistanceKm),
				Location:   dto.NewLocationResponse(n.Location),
			})
		}
		jsonResponse(w, http.StatusOK, res)
	}
}

// requirePair accepts the destination only when both coordinates are present.
func requirePair(lat float64, hasLat bool, lng float64, hasLng bool) (*model.GeoPoint, error) {
	if !hasLat || !hasLng {
		return nil, myerrors.Validationf(fmt.Errorf("destinationLat and destinationLng: %w", myerrors.ErrEmptyField))
	}
	return &model.GeoPoint{Latitude: lat, Longitude: lng}, nil
}

func roundKm(km float64) float64 {
	return math.Round(km*1000) / 1000
}
