package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Rod082213/teams-clone/services"
	"github.com/Rod082213/teams-clone/ws"
)

type ChatHandler struct {
	router  *ws.Router
	chatSvc *services.ChatService
	authSvc TokenParser
}

func NewChatHandler(r *ws.Router, c *services.ChatService, a TokenParser) *ChatHandler {
	return &ChatHandler{router: r, chatSvc: c, authSvc: a}
}

// List returns the caller's chats, most recent first.
func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.chatSvc.ListChats(c.Request.Context(), MustUserID(c))
	if err != nil {
		respondWithServiceError(c, "Failed to list chats", err)
		return
	}
	respondWithSuccess(c, http.StatusOK, chats)
}

// Create starts a chat. For a private chat that already exists between the
// two users the existing chat is returned with 200.
func (h *ChatHandler) Create(c *gin.Context) {
	var req struct {
		Name           string   `json:"name"`
		IsGroup        bool     `json:"is_group"`
		ParticipantIDs []string `json:"participant_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, "Invalid JSON", "Bad request format", http.StatusBadRequest)
		return
	}

	chat, created, err := h.chatSvc.CreateChat(c.Request.Context(), MustUserID(c), req.Name, req.IsGroup, req.ParticipantIDs)
	if err != nil {
		respondWithServiceError(c, "Failed to create chat", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondWithSuccess(c, status, chat)
}

// Delete removes a chat the caller participates in, with all its messages.
func (h *ChatHandler) Delete(c *gin.Context) {
	chatID := c.Param("id")
	if err := h.chatSvc.DeleteChat(c.Request.Context(), chatID, MustUserID(c)); err != nil {
		respondWithServiceError(c, "Failed to delete chat", err)
		return
	}
	respondWithSuccess(c, http.StatusOK, gin.H{"chat_id": chatID})
}

// WS upgrades to the event socket. With ?token= the connection starts out
// authenticated; without it the client must send an authenticate event.
func (h *ChatHandler) WS(c *gin.Context) {
	var uid, uname string
	if token := c.Query("token"); token != "" {
		var err error
		uid, uname, err = h.authSvc.ParseToken(token)
		if err != nil {
			respondWithError(c, "Unauthorized", "Invalid token", http.StatusUnauthorized)
			return
		}
	}
	h.router.ServeWS(c.Writer, c.Request, uid, uname)
}
