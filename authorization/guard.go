package authorization

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard verifies bearer tokens issued by the external auth service. Token
// issuance, registration and session lifecycle all live outside this
// repository; the guard only shares the signing secret.
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

const (
	claimUserIDKey = "user_id"
	claimRolesKey  = "roles"
)

// NewGuardFromEnv builds a verification-only JWT middleware from JWT_SECRET.
func NewGuardFromEnv() (*Guard, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return nil, errors.New("authorization: JWT_SECRET environment variable is required")
	}

	middleware, err := jwt.New(&jwt.GinJWTMiddleware{
		Realm:       "harmonia",
		Key:         []byte(secret),
		Timeout:     time.Hour,
		MaxRefresh:  24 * time.Hour,
		IdentityKey: claimUserIDKey,
		IdentityHandler: func(c *gin.Context) interface{} {
			claims := jwt.ExtractClaims(c)
			return extractUserID(claims)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("authorization: build JWT middleware: %w", err)
	}
	return &Guard{jwt: middleware}, nil
}

// RequireAuthenticated ensures the request carries a valid JWT.
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
	return g.jwt.MiddlewareFunc()
}

// RequireRole restricts the request to callers holding the given role.
func (g *Guard) RequireRole(role string) gin.HandlerFunc {
	expected := strings.ToLower(strings.TrimSpace(role))
	return func(c *gin.Context) {
		claims := jwt.ExtractClaims(c)
		if len(claims) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		for _, has := range extractRoles(claims) {
			if strings.ToLower(strings.TrimSpace(has)) == expected {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": fmt.Sprintf("%s role required", role)})
	}
}

// CurrentUserID returns the authenticated user's id, or 0 when the request
// carries no usable identity.
func CurrentUserID(c *gin.Context) uint64 {
	claims := jwt.ExtractClaims(c)
	return extractUserID(claims)
}

func extractUserID(claims jwt.MapClaims) uint64 {
	raw, ok := claims[claimUserIDKey]
	if !ok {
		return 0
	}
	switch value := raw.(type) {
	case float64:
		if value > 0 {
			return uint64(value)
		}
	case string:
		trimmed := strings.TrimSpace(value)
		var parsed uint64
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

func extractRoles(claims jwt.MapClaims) []string {
	raw, ok := claims[claimRolesKey]
	if !ok {
		return nil
	}
	values, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(values))
	for _, value := range values {
		if role, ok := value.(string); ok && strings.TrimSpace(role) != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
