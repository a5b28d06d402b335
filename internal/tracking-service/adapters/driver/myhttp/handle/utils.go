package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/myerrors"
)

const maxBodyBytes = 1 << 20

var errInternal = errors.New("internal error")

type actorKey struct{}

// WithActor stores the authenticated caller in ctx.
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(model.Actor)
	return actor, ok
}

// jsonResponse writes data as a JSON body with the given status code.
func jsonResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// JsonError writes {"error","code","reason"}. An empty reason is omitted.
func JsonError(w http.ResponseWriter, code int, reason string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err == nil {
		return
	}
	body := map[string]any{
		"error": err.Error(),
		"code":  code,
	}
	if reason != "" {
		body["reason"] = reason
	}
	_ = json.NewEncoder(w).Encode(body)
}

type errorMapping struct {
	target error
	code   int
	reason string
}

// Order matters: ErrAlreadyAssigned and ErrDriverBusy also match ErrConflict.
var errorMappings = []errorMapping{
	{myerrors.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{myerrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{myerrors.ErrForbidden, http.StatusForbidden, "forbidden"},
	{myerrors.ErrDeliveryNotFound, http.StatusNotFound, "delivery_not_found"},
	{myerrors.ErrNoLocation, http.StatusNotFound, "no_location"},
	{myerrors.ErrAlreadyAssigned, http.StatusConflict, "already_assigned"},
	{myerrors.ErrDriverBusy, http.StatusConflict, "driver_busy"},
	{myerrors.ErrConflict, http.StatusConflict, "conflict"},
	{myerrors.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{myerrors.ErrVerificationRequired, http.StatusConflict, "verification_required"},
	{myerrors.ErrHandoffNotStarted, http.StatusConflict, "handoff_not_started"},
	{myerrors.ErrStaleSample, http.StatusConflict, "stale_sample"},
	{myerrors.ErrDeliveryNotActive, http.StatusGone, "delivery_not_active"},
	{myerrors.ErrResendLimit, http.StatusTooManyRequests, "resend_limit"},
	{myerrors.ErrInvalidCode, http.StatusUnprocessableEntity, "invalid_code"},
}

// writeError maps domain errors to their HTTP status. Clients get the category message only;
// the wrapped detail and anything unknown go to the log.
func writeError(w http.ResponseWriter, log mylogger.Logger, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		log.Debug("request rejected", "reason", m.reason, "detail", err.Error())
		JsonError(w, m.code, m.reason, m.target)
		return
	}

	log.Error("request failed", err)
	JsonError(w, http.StatusInternalServerError, "internal", errInternal)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return myerrors.Validationf(fmt.Errorf("malformed body: %w", myerrors.ErrEmptyField))
	}
	return nil
}

func queryFloat(r *http.Request, name string, required bool) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return 0, false, myerrors.Validationf(fmt.Errorf("%s: %w", name, myerrors.ErrEmptyField))
		}
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, myerrors.Validationf(fmt.Errorf("%s: not a number", name))
	}
	return v, true, nil
}

func queryInt(r *http.Request, name string) (int, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, myerrors.Validationf(fmt.Errorf("%s: not an integer", name))
	}
	return v, true, nil
}

// queryPoint reads a required latitude/longitude pair.
func queryPoint(r *http.Request, latName, lngName string) (model.GeoPoint, error) {
	lat, _, err := queryFloat(r, latName, true)
	if err != nil {
		return model.GeoPoint{}, err
	}
	lng, _, err := queryFloat(r, lngName, true)
	if err != nil {
		return model.GeoPoint{}, err
	}
	return model.GeoPoint{Latitude: lat, Longitude: lng}, nil
}
