package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jobifycvut/jobify-bot/internal/service"
	"github.com/jobifycvut/jobify-bot/internal/service/dispatcher"
)

// EventHandler 入站事件处理器
type EventHandler struct {
	svc *service.Services
}

// NewEventHandler 创建事件处理器
func NewEventHandler(svc *service.Services) *EventHandler {
	return &EventHandler{svc: svc}
}

// SubmitRequest 入站事件请求体
// Data 字段为标准 base64，encoding/json 自动解码
type SubmitRequest struct {
	EventID       string `json:"event_id" binding:"required"`
	ParticipantID string `json:"participant_id" binding:"required"`
	ChannelID     string `json:"channel_id" binding:"required"`
	Text          string `json:"text"`
	Attachments   []struct {
		FileName string `json:"file_name"`
		MimeType string `json:"mime_type"`
		Data     []byte `json:"data"`
	} `json:"attachments"`
}

// toEvent 转换为流水线事件
func (r *SubmitRequest) toEvent() *dispatcher.InboundEvent {
	evt := &dispatcher.InboundEvent{
		EventID:       r.EventID,
		ParticipantID: r.ParticipantID,
		ChannelID:     r.ChannelID,
		Text:          r.Text,
	}
	for _, att := range r.Attachments {
		evt.Attachments = append(evt.Attachments, dispatcher.InboundAttachment{
			FileName: att.FileName,
			MimeType: att.MimeType,
			Data:     att.Data,
		})
	}
	return evt
}

// Submit 异步受理入站事件
// 事件入队即返回 202，回复经出站 Webhook 送达
func (h *EventHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.svc.Dispatcher.Submit(req.toEvent()); err != nil {
		Error(c, err)
		return
	}

	Accepted(c, gin.H{"event_id": req.EventID})
}

// DispatchSync 同步执行整条流水线并返回回复
func (h *EventHandler) DispatchSync(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	reply, err := h.svc.Dispatcher.Dispatch(c.Request.Context(), req.toEvent())
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, reply)
}
