package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Rod082213/teams-clone/services"
)

type AuthHandler struct {
	svc *services.AuthService
}

func NewAuthHandler(s *services.AuthService) *AuthHandler { return &AuthHandler{svc: s} }

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, "Invalid JSON", "Bad request format", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		respondWithError(c, "Missing fields", "Username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.svc.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondWithServiceError(c, "Registration failed", err)
		return
	}

	token, err := h.svc.CreateToken(user.ID, user.Username)
	if err != nil {
		respondWithError(c, "Token creation failed", "Could not create authentication token", http.StatusInternalServerError)
		return
	}

	respondWithSuccess(c, http.StatusCreated, gin.H{
		"token": token,
		"user":  user.Profile(),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, "Invalid JSON", "Bad request format", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		respondWithError(c, "Missing fields", "Username and password are required", http.StatusBadRequest)
		return
	}

	token, user, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		respondWithError(c, "Authentication failed", err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		respondWithServiceError(c, "Authentication failed", err)
		return
	}

	respondWithSuccess(c, http.StatusOK, gin.H{
		"token": token,
		"user":  user.Profile(),
	})
}

// Lookup finds another user by exact username.
func (h *AuthHandler) Lookup(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		respondWithError(c, "Missing fields", "Username is required", http.StatusBadRequest)
		return
	}

	user, err := h.svc.Lookup(c.Request.Context(), req.Username)
	if err != nil {
		respondWithServiceError(c, "Lookup failed", err)
		return
	}
	respondWithSuccess(c, http.StatusOK, user.Profile())
}

func respondWithError(c *gin.Context, error, message string, statusCode int) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func respondWithSuccess(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, SuccessResponse{
		Success: true,
		Data:    data,
	})
}

// respondWithServiceError maps a services error onto an HTTP status.
func respondWithServiceError(c *gin.Context, title string, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		respondWithError(c, title, ve.Reason, http.StatusBadRequest)
	case errors.Is(err, services.ErrUnauthorized):
		respondWithError(c, "Forbidden", "Not a participant of this chat", http.StatusForbidden)
	case errors.Is(err, services.ErrNotFound):
		respondWithError(c, "Not found", err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrConflict):
		respondWithError(c, title, err.Error(), http.StatusConflict)
	default:
		_ = c.Error(err)
		respondWithError(c, title, "Internal server error", http.StatusInternalServerError)
	}
}
