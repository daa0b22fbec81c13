package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/thalora/thalora-auth/internal/domain"
	"github.com/thalora/thalora-auth/pkg/config"
)

func TestSessionIssuer_Issue(t *testing.T) {
	cfg := &config.JWTConfig{
		Secret:      "test-secret",
		ExpiryHours: 2,
		Issuer:      "thalora-auth",
	}
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issuer := &jwtSessionIssuer{cfg: cfg, now: func() time.Time { return issued }}
	user := &domain.User{ID: 42, Username: "alice"}

	tokenString, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			t.Fatalf("unexpected signing method %v", token.Method)
		}
		return []byte(cfg.Secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return issued }))
	if err != nil || !token.Valid {
		t.Fatalf("token does not parse: %v", err)
	}

	claims := token.Claims.(jwt.MapClaims)
	if got := int64(claims["user_id"].(float64)); got != 42 {
		t.Errorf("user_id = %d", got)
	}
	if claims["username"] != "alice" {
		t.Errorf("username = %v", claims["username"])
	}
	if claims["iss"] != "thalora-auth" {
		t.Errorf("iss = %v", claims["iss"])
	}
	if claims["jti"] == "" {
		t.Error("expected jti claim")
	}
	if got := int64(claims["exp"].(float64)); got != issued.Add(2*time.Hour).Unix() {
		t.Errorf("exp = %d", got)
	}
}

func TestSessionIssuer_FreshJTIPerToken(t *testing.T) {
	issuer := NewSessionIssuer(&config.JWTConfig{Secret: "s", ExpiryHours: 1, Issuer: "i"})
	user := &domain.User{ID: 1, Username: "alice"}

	jtis := make(map[string]bool)
	for i := 0; i < 3; i++ {
		tokenString, err := issuer.Issue(user)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
		if err != nil {
			t.Fatalf("ParseUnverified: %v", err)
		}
		jti := token.Claims.(jwt.MapClaims)["jti"].(string)
		if jtis[jti] {
			t.Fatalf("jti %q reused", jti)
		}
		jtis[jti] = true
	}
}

func TestSessionIssuer_WrongSecretRejected(t *testing.T) {
	issuer := NewSessionIssuer(&config.JWTConfig{Secret: "right", ExpiryHours: 1, Issuer: "i"})
	tokenString, err := issuer.Issue(&domain.User{ID: 1, Username: "alice"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte("wrong"), nil
	}); err == nil {
		t.Error("expected verification failure with wrong secret")
	}
}
