package handle

import (
	"net/http"
	"strings"
	"time"

	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"
)

type DeliveriesHandler struct {
	deliveries   driver.IDeliveryService
	dispatch     driver.IDispatchService
	log          mylogger.Logger
	pollInterval time.Duration
}

func NewDeliveriesHandler(ds driver.IDeliveryService, dispatch driver.IDispatchService, pollInterval time.Duration, log mylogger.Logger) *DeliveriesHandler {
	return &DeliveriesHandler{
		deliveries:   ds,
		dispatch:     dispatch,
		log:          log,
		pollInterval: pollInterval,
	}
}

func (dh *DeliveriesHandler) CreateDelivery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := dto.CreateDeliveryRequest{}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, dh.log, err)
			return
		}

		d, created, err := dh.deliveries.Create(r.Context(), req)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}

		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		jsonResponse(w, code, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}

func (dh *DeliveriesHandler) GetDelivery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		d, err := dh.deliveries.Authorize(r.Context(), r.PathValue("id"), actor, model.AccessRead)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}

func (dh *DeliveriesHandler) UpdateStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		req := dto.StatusRequest{}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, dh.log, err)
			return
		}

		status := model.DeliveryStatus(strings.ToLower(strings.TrimSpace(req.Status)))
		d, err := dh.deliveries.Transition(r.Context(), r.PathValue("id"), status, actor)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}

func (dh *DeliveriesHandler) Accept() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		d, err := dh.dispatch.Accept(r.Context(), r.PathValue("id"), actor.ID)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}

func (dh *DeliveriesHandler) Assign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := dto.AssignRequest{}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, dh.log, err)
			return
		}

		d, err := dh.deliveries.Assign(r.Context(), r.PathValue("id"), req.DriverID)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}

func (dh *DeliveriesHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		// The body is optional.
		req := dto.CancelRequest{}
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, dh.log, err)
				return
			}
		}

		d, err := dh.deliveries.Cancel(r.Context(), r.PathValue("id"), req.Reason, actor)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}

func (dh *DeliveriesHandler) ReportIssue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		req := dto.IssueRequest{}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, dh.log, err)
			return
		}

		d, err := dh.deliveries.ReportIssue(r.Context(), r.PathValue("id"), model.IssueType(req.IssueType), req.Description, actor)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		jsonResponse(w, http.StatusCreated, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}

// Available lists pending deliveries around the calling driver.
func (dh *DeliveriesHandler) Available() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		point, err := queryPoint(r, "latitude", "longitude")
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		maxDistance, _, err := queryFloat(r, "maxDistance", false)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}

		filter := driver.AvailableFilter{MaxDistanceKm: maxDistance}
		priority, ok, err := queryInt(r, "priority")
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		if ok {
			filter.Priority = &priority
		}

		list, err := dh.dispatch.ListAvailable(r.Context(), point, filter)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}

		res := make([]dto.AvailableDeliveryResponse, 0, len(list))
		for _, a := range list {
			res = append(res, dto.AvailableDeliveryResponse{
				DeliveryResponse: dto.NewDeliveryResponse(a.Delivery, 0),
				DistanceKm:       roundKm(a.DistanceKm),
			})
		}
		jsonResponse(w, http.StatusOK, res)
	}
}

// MyDelivery returns the delivery the calling driver currently holds.
func (dh *DeliveriesHandler) MyDelivery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || actor.ID == "" {
			writeError(w, dh.log, myerrors.ErrUnauthorized)
			return
		}

		d, err := dh.deliveries.ActiveForDriver(r.Context(), actor.ID)
		if err != nil {
			writeError(w, dh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.NewDeliveryResponse(d, dh.pollInterval))
	}
}
