package middleware

import (
	"fmt"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/model"

	"github.com/golang-jwt/jwt"
)

// IssueToken signs an HS256 access token carrying the claims Wrap reads.
// Identity is owned by an external service; this exists for tooling and tests.
func IssueToken(secret string, actor model.Actor, ttl time.Duration) (string, error) {
	if !actor.Role.IsValid() || actor.ID == "" {
		return "", fmt.Errorf("invalid actor %q/%q", actor.ID, actor.Role)
	}

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": actor.ID,
		"role":    string(actor.Role),
		"exp":     time.Now().Add(ttl).Unix(),
	})

	signed, err := accessToken.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
