package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"github.com/prperemyshlev/chatsync/internal/realtime"
	"github.com/prperemyshlev/chatsync/internal/syncengine"
)

// ChannelStatus reports the realtime channel state
type ChannelStatus interface {
	State() realtime.State
	TransportsOpened() int64
}

// SyncHandler exposes the sync engine on the debug surface
type SyncHandler struct {
	engine  *syncengine.Engine
	channel ChannelStatus
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(engine *syncengine.Engine, channel ChannelStatus) *SyncHandler {
	return &SyncHandler{
		engine:  engine,
		channel: channel,
	}
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

type submitVoteRequest struct {
	OptionIndex int `json:"optionIndex"`
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// ListConversations handles GET /debug/conversations. ?reload=true refetches first.
func (h *SyncHandler) ListConversations(c *gin.Context) {
	if c.Query("reload") == "true" {
		writeResult(c, http.StatusOK, h.engine.LoadConversations(c.Request.Context()))
		return
	}
	c.JSON(http.StatusOK, dto.Ok(h.engine.Conversations(), ""))
}

// GetConversation handles GET /debug/conversations/:id
func (h *SyncHandler) GetConversation(c *gin.Context) {
	conv, ok := h.engine.Conversation(c.Param("id"))
	if !ok {
		writeResult(c, http.StatusOK, dto.FailFromError[*domain.Conversation](domain.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, dto.Ok(conv, ""))
}

// ListMessages handles GET /debug/conversations/:id/messages. ?reload=true refetches first.
func (h *SyncHandler) ListMessages(c *gin.Context) {
	id := c.Param("id")
	if c.Query("reload") == "true" {
		writeResult(c, http.StatusOK, h.engine.LoadMessages(c.Request.Context(), id))
		return
	}
	c.JSON(http.StatusOK, dto.Ok(h.engine.Messages(id), ""))
}

// SendMessage handles POST /debug/conversations/:id/messages
func (h *SyncHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ConversationID = c.Param("id")

	writeResult(c, http.StatusAccepted, h.engine.SendMessage(c.Request.Context(), req))
}

// MarkRead handles POST /debug/conversations/:id/read. An empty body marks everything.
func (h *SyncHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	writeResult(c, http.StatusOK, h.engine.MarkRead(c.Request.Context(), c.Param("id"), req.MessageIDs...))
}

// React handles POST /debug/conversations/:id/messages/:messageId/reactions
func (h *SyncHandler) React(c *gin.Context) {
	var req reactRequest
	if !bindJSON(c, &req) {
		return
	}

	writeResult(c, http.StatusAccepted, h.engine.React(c.Request.Context(), c.Param("id"), c.Param("messageId"), req.Emoji))
}

// CreateVote handles POST /debug/conversations/:id/votes
func (h *SyncHandler) CreateVote(c *gin.Context) {
	var req dto.CreateVoteRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ConversationID = c.Param("id")

	writeResult(c, http.StatusAccepted, h.engine.CreateVote(c.Request.Context(), req))
}

// SubmitVote handles POST /debug/conversations/:id/messages/:messageId/votes
func (h *SyncHandler) SubmitVote(c *gin.Context) {
	var req submitVoteRequest
	if !bindJSON(c, &req) {
		return
	}

	writeResult(c, http.StatusAccepted, h.engine.SubmitVote(c.Request.Context(), c.Param("id"), c.Param("messageId"), req.OptionIndex))
}

// ChannelState handles GET /debug/channel
func (h *SyncHandler) ChannelState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":            h.channel.State().String(),
		"transportsOpened": h.channel.TransportsOpened(),
	})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Message:   err.Error(),
			ErrorCode: dto.ErrCodeBadRequest,
		})
		return false
	}
	return true
}
