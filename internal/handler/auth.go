package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"ticketflow/internal/auth"
	"ticketflow/internal/middleware"
)

type AuthHandler struct {
	Auth   *auth.Service
	Logger zerolog.Logger
}

type registerBody struct {
	Name     string `json:"nombre" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginBody struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var body registerBody
	if !bindJSON(c, &body) {
		return
	}

	user, err := h.Auth.Register(c.Request.Context(), auth.RegisterInput{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var body loginBody
	if !bindJSON(c, &body) {
		return
	}

	token, user, err := h.Auth.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	user.PasswordHash = ""
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Me reloads the principal so that accounts deactivated after the token was
// issued stop resolving.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	user, err := h.Auth.Me(c.Request.Context(), claims)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
