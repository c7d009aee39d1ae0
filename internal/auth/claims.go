package auth

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"trackhub/internal/hub"
)

// Claims defines our canonical JWT claims payload. The subject is the
// device ID for device tokens and an operator ID for observer tokens.
type Claims struct {
	Role hub.Role `json:"role"` // connection role (device/observer)
	jwtlib.RegisteredClaims
}

// ensure Claims implements jwtlib.Claims interface
var _ jwtlib.Claims = (*Claims)(nil)

// NewClaims constructs claims for a tracked device or an observer.
func NewClaims(subject string, role hub.Role, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}
