package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/pkg/response"
)

// AuthHandler manages registration, login, and identity lookup.
type AuthHandler struct {
	users *iauth.UserService
}

func NewAuthHandler(users *iauth.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

type userDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func mapUser(user *models.User) userDTO {
	return userDTO{ID: user.ID, Email: user.Email, Name: user.Name}
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req iauth.RegisterInput
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, mapUser(user))
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req iauth.LoginInput
	if !bindAndValidate(c, &req) {
		return
	}
	req.IPAddress = c.ClientIP()

	token, user, err := h.users.Login(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  mapUser(user),
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetUser(requestContext(c), middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapUser(user))
}
