package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"ticketflow/internal/hub"
)

type HealthHandler struct {
	Router *hub.Router
}

func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{"ok": true}
	if h.Router != nil {
		body["sockets"] = gin.H{
			"connected":  h.Router.Connected(),
			"identified": h.Router.Identified(),
		}
	}
	c.JSON(http.StatusOK, body)
}
