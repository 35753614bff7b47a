package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobvault/internal/api/dto"
	"github.com/cuongbtq/jobvault/internal/auth"
	"github.com/cuongbtq/jobvault/internal/domain"
)

// AuthHandler serves signup and login
type AuthHandler struct {
	logger *slog.Logger
	auth   *auth.Service
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(deps *Dependencies) *AuthHandler {
	return &AuthHandler{
		logger: deps.Logger,
		auth:   deps.Auth,
	}
}

// Signup handles POST /api/v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req dto.CredentialsRequest
	if err := bindJSON(c, &req); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	identity, err := h.auth.Signup(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SignupResponse{
		CreatedAt: identity.CreatedAt,
		Email:     identity.Email,
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.CredentialsRequest
	if err := bindJSON(c, &req); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	session, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
