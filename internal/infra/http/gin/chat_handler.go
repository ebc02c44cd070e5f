package ginserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/app/commands"
	messagingapp "campusmarket/internal/app/handlers/messaging"
	"campusmarket/internal/app/queries"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	StartConversation(c *gin.Context)
	GetConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	AddReaction(c *gin.Context)
	RemoveReaction(c *gin.Context)
}

// ChatHandler maps the conversation endpoints onto the messaging buses.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	convs, err := queries.Ask[messagingapp.ListConversationsQuery, []messaging.Conversation](c.Request.Context(), h.Queries, messagingapp.ListConversationsQuery{
		UserID: currentUser(c),
		Limit:  limit,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toConversationDTOs(convs)})
}

func (h ChatHandler) StartConversation(c *gin.Context) {
	res, err := commands.Dispatch[messagingapp.StartConversationCommand, *messagingapp.StartConversationResult](c.Request.Context(), h.Commands, messagingapp.StartConversationCommand{
		ListingID: c.Param("id"),
		BuyerID:   currentUser(c),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": toConversationDTO(res.Conversation), "created": res.Created})
}

func (h ChatHandler) GetConversation(c *gin.Context) {
	details, err := queries.Ask[messagingapp.GetConversationQuery, *messaging.ConversationDetails](c.Request.Context(), h.Queries, messagingapp.GetConversationQuery{
		ConversationID: c.Param("id"),
		ViewerID:       currentUser(c),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, toDetailsDTO(*details))
}

// ListMessages pages backwards; before is an RFC 3339 timestamp taken from the previous cursor.
func (h ChatHandler) ListMessages(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	var before time.Time
	if raw := strings.TrimSpace(c.Query("before")); raw != "" {
		if before, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			respondError(c, h.Logger, errs.Validation("before must be an RFC 3339 timestamp"))
			return
		}
	}
	page, err := queries.Ask[messagingapp.FetchMessagesQuery, *messagingapp.MessagePage](c.Request.Context(), h.Queries, messagingapp.FetchMessagesQuery{
		ConversationID: c.Param("id"),
		ViewerID:       currentUser(c),
		Before:         before,
		Limit:          limit,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	out := messagePageDTO{Items: toMessageDTOs(page.Messages), HasMore: page.HasMore}
	if !page.Cursor.IsZero() {
		cursor := page.Cursor
		out.Cursor = &cursor
	}
	c.JSON(http.StatusOK, out)
}

type sendMessageRequest struct {
	Content   string              `json:"content"`
	Image     *messaging.ImageRef `json:"image"`
	ReplyToID string              `json:"reply_to_id"`
}

func (h ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.Logger, errs.Validation("invalid request body"))
		return
	}
	res, err := commands.Dispatch[messagingapp.SendMessageCommand, *messagingapp.SendMessageResult](c.Request.Context(), h.Commands, messagingapp.SendMessageCommand{
		ConversationID: c.Param("id"),
		SenderID:       currentUser(c),
		Content:        req.Content,
		Image:          req.Image,
		ReplyToID:      req.ReplyToID,
		ClientKey:      c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": toMessageDTO(res.Message), "recipient_unread": res.RecipientUnread})
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, h.Logger, errs.Validation("invalid request body"))
			return
		}
	}
	res, err := commands.Dispatch[messagingapp.MarkReadCommand, *messagingapp.MarkReadResult](c.Request.Context(), h.Commands, messagingapp.MarkReadCommand{
		ConversationID: c.Param("id"),
		UserID:         currentUser(c),
		MessageIDs:     req.MessageIDs,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h ChatHandler) AddReaction(c *gin.Context) {
	h.setReaction(c, true)
}

func (h ChatHandler) RemoveReaction(c *gin.Context) {
	h.setReaction(c, false)
}

func (h ChatHandler) setReaction(c *gin.Context, add bool) {
	res, err := commands.Dispatch[messagingapp.SetReactionCommand, *messagingapp.SetReactionResult](c.Request.Context(), h.Commands, messagingapp.SetReactionCommand{
		MessageID: c.Param("id"),
		Emoji:     c.Param("emoji"),
		UserID:    currentUser(c),
		Add:       add,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": toMessageDTO(res.Message)})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.Validation("limit must be a non-negative integer")
	}
	return n, nil
}
