package handle

import (
	"net/http"

	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/ports/driver"
)

type VerificationHandler struct {
	deliveries   driver.IDeliveryService
	verification driver.IVerificationService
	log          mylogger.Logger
}

func NewVerificationHandler(ds driver.IDeliveryService, vs driver.IVerificationService, log mylogger.Logger) *VerificationHandler {
	return &VerificationHandler{
		deliveries:   ds,
		verification: vs,
		log:          log,
	}
}

// SendCode (re)issues the handoff code to the customer. The code never appears in the response.
func (vh *VerificationHandler) SendCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		id := r.PathValue("id")

		if _, err := vh.deliveries.Authorize(r.Context(), id, actor, model.AccessDrive); err != nil {
			writeError(w, vh.log, err)
			return
		}

		receipt, err := vh.verification.Resend(r.Context(), id)
		if err != nil {
			writeError(w, vh.log, err)
			return
		}
		jsonResponse(w, http.StatusAccepted, dto.CodeSentResponse{
			DeliveryID:       receipt.DeliveryID,
			ExpiresAt:        receipt.ExpiresAt,
			ResendsRemaining: receipt.ResendsRemaining,
		})
	}
}

// VerifyCode is open to both sides of the handoff: the assigned driver and the customer.
func (vh *VerificationHandler) VerifyCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		id := r.PathValue("id")

		req := dto.VerifyRequest{}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, vh.log, err)
			return
		}

		if _, err := vh.deliveries.Authorize(r.Context(), id, actor, model.AccessRead); err != nil {
			writeError(w, vh.log, err)
			return
		}

		if err := vh.verification.Verify(r.Context(), id, req.Code, actor); err != nil {
			writeError(w, vh.log, err)
			return
		}
		jsonResponse(w, http.StatusOK, dto.VerifyResponse{DeliveryID: id, Verified: true})
	}
}
