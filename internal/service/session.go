package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/thalora/thalora-auth/internal/domain"
	"github.com/thalora/thalora-auth/pkg/config"
)

// SessionIssuer mints a session token for a completed ceremony. Called
// exactly once per successful registration or login.
type SessionIssuer interface {
	Issue(user *domain.User) (string, error)
}

type jwtSessionIssuer struct {
	cfg *config.JWTConfig
	now func() time.Time
}

// NewSessionIssuer creates the production JWT issuer (HS256).
func NewSessionIssuer(cfg *config.JWTConfig) SessionIssuer {
	return &jwtSessionIssuer{cfg: cfg, now: time.Now}
}

func (i *jwtSessionIssuer) Issue(user *domain.User) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(time.Duration(i.cfg.ExpiryHours) * time.Hour).Unix(),
		"iss":      i.cfg.Issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(i.cfg.Secret))
}
