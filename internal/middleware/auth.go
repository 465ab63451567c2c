package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/yourorg/portfolio-cms/internal/config"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID = "userID"
	ContextToken  = "token"
)

// AuthMiddleware accepts either the service key in X-Service-Key or, when a
// JWT secret is configured, a Bearer token signed with it.
func AuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip authentication if disabled
		if !cfg.Enabled {
			c.Next()
			return
		}

		if serviceKey := c.GetHeader("X-Service-Key"); serviceKey != "" {
			if serviceKey != cfg.ServiceKey {
				logger.Warn("Invalid service key", zap.String("client_ip", c.ClientIP()))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid service key"})
				return
			}
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Service key or bearer token required"})
			return
		}

		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || headerParts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			return
		}

		userID, err := ValidateToken(headerParts[1], cfg.JWTSecret)
		if err != nil {
			logger.Debug("token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextToken, headerParts[1])
		c.Next()
	}
}

// ValidateToken checks an HMAC-signed token and returns its subject. Tokens
// issued by the CMS carry the user id in "id" rather than "sub".
func ValidateToken(tokenString, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("bearer tokens are not accepted")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	for _, name := range []string{"sub", "id"} {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	}
	return "", errors.New("invalid user ID in token")
}
