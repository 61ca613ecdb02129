package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/server/middleware"
	"filevault/internal/shared/server/respond"
)

// registerMeRoutes attaches the /me endpoint, which echoes the principal
// resolved from the presented credential.
func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", meHandler)
}

func meHandler(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok || principal.OwnerID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	response := gin.H{
		"userId": principal.OwnerID,
	}
	if principal.Email != "" {
		response["email"] = principal.Email
	}
	if principal.Name != "" {
		response["name"] = principal.Name
	}

	respond.JSON(c, http.StatusOK, response)
}
