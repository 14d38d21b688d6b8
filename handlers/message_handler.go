package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Rod082213/teams-clone/services"
)

type MessageHandler struct {
	svc       *services.MessageService
	uploadSvc *services.UploadService
	maxUpload int64
}

func NewMessageHandler(s *services.MessageService, u *services.UploadService, maxUpload int64) *MessageHandler {
	return &MessageHandler{svc: s, uploadSvc: u, maxUpload: maxUpload}
}

// ListMessages returns the full history of a chat the caller participates in.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	chatID := c.Param("id")
	if chatID == "" {
		respondWithError(c, "Missing parameter", "chat id is required", http.StatusBadRequest)
		return
	}

	msgs, err := h.svc.List(c.Request.Context(), chatID, MustUserID(c))
	if err != nil {
		respondWithServiceError(c, "Failed to fetch messages", err)
		return
	}
	respondWithSuccess(c, http.StatusOK, msgs)
}

// UploadImage stores the multipart "image" field and returns its URL.
func (h *MessageHandler) UploadImage(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		respondWithError(c, "No image uploaded", err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	// one byte past the limit is enough to reject oversized files
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		respondWithError(c, "Failed to read file", err.Error(), http.StatusBadRequest)
		return
	}

	url, err := h.uploadSvc.UploadImage(c.Request.Context(), data)
	if err != nil {
		respondWithServiceError(c, "Upload failed", err)
		return
	}
	respondWithSuccess(c, http.StatusCreated, gin.H{"image_url": url})
}
