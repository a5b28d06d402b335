package dto

import "time"

type VerifyRequest struct {
	Code string `json:"code"`
}

type VerifyResponse struct {
	DeliveryID string `json:"deliveryId"`
	Verified   bool   `json:"verified"`
}

type CodeSentResponse struct {
	DeliveryID       string    `json:"deliveryId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ResendsRemaining int       `json:"resendsRemaining"`
}
