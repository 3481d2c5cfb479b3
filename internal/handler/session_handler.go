package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jobifycvut/jobify-bot/internal/service"
)

// SessionHandler 会话查询与管理处理器
type SessionHandler struct {
	svc *service.Services
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(svc *service.Services) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// getPagination 获取分页参数
func getPagination(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return
}

// ListSessions 按参与者列出会话
func (h *SessionHandler) ListSessions(c *gin.Context) {
	participantID := c.Query("participant_id")
	if participantID == "" {
		BadRequest(c, "participant_id is required")
		return
	}

	page, size := getPagination(c)
	sessions, err := h.svc.Store.ListSessionsByParticipant(c.Request.Context(), participantID, (page-1)*size, size)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"items": sessions,
		"page":  page,
		"size":  size,
	})
}

// GetMessages 按序号升序返回会话消息
func (h *SessionHandler) GetMessages(c *gin.Context) {
	id := c.Param("id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit < 0 {
		limit = 0
	}

	if _, err := h.svc.Store.GetSessionByID(c.Request.Context(), id); err != nil {
		Error(c, err)
		return
	}

	messages, err := h.svc.Store.LoadHistory(c.Request.Context(), id, limit)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{
		"session_id": id,
		"messages":   messages,
	})
}

// ResetRequest 重置会话请求体
type ResetRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	ChannelID     string `json:"channel_id" binding:"required"`
}

// Reset 归档当前活跃会话，下一条消息开启新会话
func (h *SessionHandler) Reset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.svc.SessionMgr.Reset(c.Request.Context(), req.ParticipantID, req.ChannelID); err != nil {
		Error(c, err)
		return
	}

	Success(c, gin.H{"reset": true})
}
