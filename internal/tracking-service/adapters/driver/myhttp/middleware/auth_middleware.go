package middleware

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp/handle"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"

	"github.com/golang-jwt/jwt"
)

type AuthMiddleware struct {
	accessSecret string
}

func NewAuthMiddleware(accessSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		accessSecret: accessSecret,
	}
}

// Wrap authenticates the Bearer token and, when roles are given, admits only those roles.
// The caller is available to handlers through handle.ActorFrom.
func (am *AuthMiddleware) Wrap(next http.Handler, roles ...model.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := am.parse(r.Header.Get("Authorization"))
		if err != nil {
			handle.JsonError(w, http.StatusUnauthorized, "unauthorized", err)
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			handle.JsonError(w, http.StatusForbidden, "forbidden", fmt.Errorf("role %s is not allowed here", actor.Role))
			return
		}

		r.Header.Set("X-UserId", actor.ID)
		next.ServeHTTP(w, r.WithContext(handle.WithActor(r.Context(), actor)))
	})
}

func (am *AuthMiddleware) parse(header string) (model.Actor, error) {
	if header == "" {
		return model.Actor{}, fmt.Errorf("empty JWT token")
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(am.accessSecret), nil
	})
	if err != nil || !token.Valid {
		return model.Actor{}, fmt.Errorf("invalid JWT token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Actor{}, fmt.Errorf("invalid claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return model.Actor{}, fmt.Errorf("user_id not found in token")
	}

	role, ok := claims["role"].(string)
	if !ok || !model.Role(role).IsValid() {
		return model.Actor{}, fmt.Errorf("role not found in token")
	}

	return model.Actor{ID: userID, Role: model.Role(role)}, nil
}
