package model

import "time"

// VerificationCode is stored hashed. Plaintext only exists at issue time.
type VerificationCode struct {
	ID             string
	DeliveryID     string
	CodeHash       []byte
	IssuedAt       time.Time
	ExpiresAt      time.Time
	ConsumedAt     *time.Time
	InvalidatedAt  *time.Time
	FailedAttempts int
}

func (c *VerificationCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}

// Usable reports whether the code can still be verified at now.
func (c *VerificationCode) Usable(now time.Time) bool {
	return c.ConsumedAt == nil && c.InvalidatedAt == nil && now.Before(c.ExpiresAt)
}
