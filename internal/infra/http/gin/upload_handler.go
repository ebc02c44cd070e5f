package ginserver

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/app/chatsync"
	messagingapp "campusmarket/internal/app/handlers/messaging"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

type UploadHTTP interface {
	UploadImage(c *gin.Context)
}

// UploadHandler stores a message image for a conversation the caller takes part in.
type UploadHandler struct {
	Uploader chatsync.Uploader
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h UploadHandler) UploadImage(c *gin.Context) {
	userID := currentUser(c)
	conversationID := strings.TrimSpace(c.PostForm("conversation_id"))
	if conversationID == "" {
		respondError(c, h.Logger, errs.Validation("conversation_id is required"))
		return
	}
	if _, err := queries.Ask[messagingapp.GetConversationQuery, *messaging.ConversationDetails](c.Request.Context(), h.Queries, messagingapp.GetConversationQuery{
		ConversationID: conversationID,
		ViewerID:       userID,
	}); err != nil {
		respondError(c, h.Logger, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, h.Logger, errs.Validation("file is required"))
		return
	}
	if header.Size > messaging.MaxImageBytes {
		respondError(c, h.Logger, errs.Validationf("image exceeds %d bytes", messaging.MaxImageBytes))
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, h.Logger, errs.Validation("cannot read upload"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, messaging.MaxImageBytes+1))
	if err != nil {
		respondError(c, h.Logger, errs.Validation("cannot read upload"))
		return
	}

	declared := header.Header.Get("Content-Type")
	if declared == "application/octet-stream" {
		declared = ""
	}
	ref, err := h.Uploader.UploadImage(c.Request.Context(), conversationID, userID, messaging.Attachment{
		Data:        data,
		ContentType: declared,
		FileName:    header.Filename,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}
