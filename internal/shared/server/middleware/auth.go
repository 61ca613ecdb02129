package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/auth"
	"filevault/internal/shared/server/respond"
)

const (
	userIDKey    = "userId"
	principalKey = "principal"
)

// CredentialResolver turns a raw credential into a principal.
type CredentialResolver interface {
	Resolve(token string) (auth.Principal, error)
}

// Auth requires a bearer credential and stores the resolved principal in context.
func Auth(resolver CredentialResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		principal, err := resolver.Resolve(token)
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(principalKey, principal)
		c.Set(userIDKey, principal.OwnerID)
		c.Next()
	}
}

// PrincipalFromContext fetches the principal set by the auth middleware.
func PrincipalFromContext(c *gin.Context) (auth.Principal, bool) {
	if c == nil {
		return auth.Principal{}, false
	}
	val, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := val.(auth.Principal)
	return p, ok && p.OwnerID != ""
}

// UserIDFromContext fetches the owner ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
