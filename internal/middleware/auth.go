package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwt.Validate(strings.TrimSpace(authz[7:]))
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Next()
	}
}

// UserID extracts the authenticated user id placed by Auth. The empty string
// means the request was not authenticated.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
