package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"ticketflow/internal/auth"
	"ticketflow/internal/model"
)

type UserHandler struct {
	Auth   *auth.Service
	Logger zerolog.Logger
}

type createUserBody struct {
	Name     string `json:"nombre" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"rol" binding:"omitempty,oneof=administrador agente cliente"`
}

type updateUserBody struct {
	Name     *string `json:"nombre" binding:"omitempty,min=1"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=6"`
	Role     *string `json:"rol" binding:"omitempty,oneof=administrador agente cliente"`
	Active   *bool   `json:"activo"`
}

func (h *UserHandler) Create(c *gin.Context) {
	var body createUserBody
	if !bindJSON(c, &body) {
		return
	}

	user, err := h.Auth.CreateUser(c.Request.Context(), auth.CreateUserInput{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
		Role:     model.Role(body.Role),
	})
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.Auth.ListUsers(c.Request.Context())
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.Auth.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Update(c *gin.Context) {
	var body updateUserBody
	if !bindJSON(c, &body) {
		return
	}

	in := auth.UpdateUserInput{
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
		Active:   body.Active,
	}
	if body.Role != nil {
		role := model.Role(*body.Role)
		in.Role = &role
	}

	user, err := h.Auth.UpdateUser(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Deactivate(c *gin.Context) {
	user, err := h.Auth.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.Auth.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.Logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
