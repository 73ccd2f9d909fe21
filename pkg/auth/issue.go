package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
)

// Issue signs a token for the actor the same way the identity service does.
// Production traffic only verifies; this backs local tooling and tests.
func Issue(cfg config.JWTConfig, now time.Time, actor Actor) (string, error) {
	if cfg.Secret == "" || cfg.Issuer == "" {
		return "", fmt.Errorf("jwt secret and issuer are required")
	}
	if cfg.ExpirationMinutes <= 0 {
		return "", fmt.Errorf("jwt expiration minutes must be positive")
	}
	if actor.UserID == uuid.Nil {
		return "", fmt.Errorf("user id is required")
	}
	claims := AccessTokenClaims{
		UserID: actor.UserID,
		Staff:  actor.Staff,
		Name:   actor.Name,
		Email:  actor.Email,
		Phone:  actor.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
