package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/thalora/thalora-auth/pkg/config"
)

// TokenRevocations reports whether a token ID has been revoked (logout).
type TokenRevocations interface {
	IsBlacklisted(jti string) bool
}

// AuthMiddleware validates bearer JWT tokens and sets user context.
// Revoked tokens (logout) are rejected via the revocation list.
func AuthMiddleware(cfg *config.Config, revocations TokenRevocations, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(401, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(401, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			c.JSON(401, gin.H{"error": "Token required"})
			c.Abort()
			return
		}

		// Parse and validate the JWT token
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			// Validate the signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWT.Secret), nil
		})

		if err != nil || !token.Valid {
			c.JSON(401, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		// Extract claims
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(401, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}

		// user_id is a JSON number in the claims
		rawUserID, ok := claims["user_id"].(float64)
		if !ok {
			c.JSON(401, gin.H{"error": "Invalid user ID in token"})
			c.Abort()
			return
		}
		userID := int64(rawUserID)

		username, _ := claims["username"].(string)

		jti, _ := claims["jti"].(string)
		if jti != "" && revocations != nil && revocations.IsBlacklisted(jti) {
			logger.Warn("Rejected revoked token",
				zap.Int64("user_id", userID),
				zap.String("jti", jti),
			)
			c.JSON(401, gin.H{"error": "Token has been revoked"})
			c.Abort()
			return
		}

		var expiresAt time.Time
		if exp, ok := claims["exp"].(float64); ok {
			expiresAt = time.Unix(int64(exp), 0)
		}

		c.Set("user_id", userID)
		c.Set("username", username)
		c.Set("token", tokenString)
		c.Set("jti", jti)
		c.Set("token_expires_at", expiresAt)

		c.Next()
	}
}

// Logger returns a gin middleware for logging
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
