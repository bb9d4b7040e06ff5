package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKeyOperator holds the authenticated operator name
const ContextKeyOperator = "operator"

// Middleware creates a JWT authentication middleware
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, ErrUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abort(c, ErrUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := jwtManager.ValidateAccessToken(parts[1])
		if err != nil {
			var authErr AuthError
			if !errors.As(err, &authErr) {
				authErr = ErrInvalidToken
			}
			abort(c, authErr, authErr.Message)
			return
		}

		c.Set(ContextKeyOperator, claims.Operator)
		c.Next()
	}
}

// GetOperator returns the operator set by Middleware
func GetOperator(c *gin.Context) string {
	return c.GetString(ContextKeyOperator)
}

func abort(c *gin.Context, err AuthError, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   err.Code,
		"message": message,
	})
}
