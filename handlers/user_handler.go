package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Rod082213/teams-clone/services"
)

type UserHandler struct {
	profiles *services.ProfileService
	blocks   *services.BlockService
	authSvc  *services.AuthService
}

func NewUserHandler(p *services.ProfileService, b *services.BlockService, a *services.AuthService) *UserHandler {
	return &UserHandler{profiles: p, blocks: b, authSvc: a}
}

// UpdateProfile takes a multipart form with an optional "username" field and
// an optional "avatar" file. The response carries a fresh token because the
// token names the user.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	username := c.PostForm("username")

	var avatar []byte
	if file, _, err := c.Request.FormFile("avatar"); err == nil {
		defer file.Close()
		avatar, err = io.ReadAll(io.LimitReader(file, services.MaxAvatarBytes+1))
		if err != nil {
			respondWithError(c, "Failed to read file", err.Error(), http.StatusBadRequest)
			return
		}
	}

	user, err := h.profiles.UpdateProfile(c.Request.Context(), MustUserID(c), username, avatar)
	if err != nil {
		respondWithServiceError(c, "Profile update failed", err)
		return
	}

	token, err := h.authSvc.CreateToken(user.ID, user.Username)
	if err != nil {
		respondWithError(c, "Token creation failed", "Could not create authentication token", http.StatusInternalServerError)
		return
	}
	respondWithSuccess(c, http.StatusOK, gin.H{
		"token": token,
		"user":  user.Profile(),
	})
}

func (h *UserHandler) Block(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		respondWithError(c, "Missing fields", "user_id is required", http.StatusBadRequest)
		return
	}

	block, err := h.blocks.Block(c.Request.Context(), MustUserID(c), req.UserID)
	if err != nil {
		respondWithServiceError(c, "Block failed", err)
		return
	}
	respondWithSuccess(c, http.StatusCreated, block)
}

func (h *UserHandler) Unblock(c *gin.Context) {
	blockedID := c.Param("id")
	if err := h.blocks.Unblock(c.Request.Context(), MustUserID(c), blockedID); err != nil {
		respondWithServiceError(c, "Unblock failed", err)
		return
	}
	respondWithSuccess(c, http.StatusOK, gin.H{"user_id": blockedID})
}
