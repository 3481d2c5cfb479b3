package handler

import (
	"github.com/jobifycvut/jobify-bot/internal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Event   *EventHandler
	Session *SessionHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Event:   NewEventHandler(svc),
		Session: NewSessionHandler(svc),
	}
}
