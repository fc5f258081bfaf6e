package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/linemk/market-checkout/internal/domain/models"
)

var ErrNoSecret = errors.New("JWT_SECRET environment variable is not set")

// NewToken выпускает токен покупателя или администратора; роль попадает в claim "role".
func NewToken(ctx context.Context, user *models.User, ttl time.Duration) (string, error) {
	role := user.Role
	if role == "" {
		role = models.RoleCustomer
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   fmt.Sprintf("%d", user.ID),
		"email": user.Email,
		"role":  role,
		"exp":   now.Add(ttl).Unix(),
		"iat":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", ErrNoSecret
	}
	return token.SignedString([]byte(secret))
}
