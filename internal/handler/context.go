package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"ticketflow/internal/middleware"
	"ticketflow/internal/service"
)

// actorFrom reads the caller placed in the context by RequireAuth. It writes
// the 401 itself when the claims are missing.
func actorFrom(c *gin.Context) (service.Actor, bool) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok || claims.UserID() == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return service.Actor{}, false
	}
	return service.Actor{ID: claims.UserID(), Role: claims.Role}, true
}
