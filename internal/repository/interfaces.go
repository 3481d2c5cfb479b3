// Package repository 定义数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jobifycvut/jobify-bot/internal/model"
)

// 持久化层错误
var (
	// ErrStorageUnavailable 存储连接不可用
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSequenceConflict 消息序号重复或乱序
	ErrSequenceConflict = errors.New("message sequence conflict")
	// ErrDuplicateEvent 入站事件已处理过
	ErrDuplicateEvent = errors.New("duplicate inbound event")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
)

// ConversationStore 会话与消息数据访问接口
// 接口定义使 Service 层可以轻松 mock 进行单元测试
type ConversationStore interface {
	// 会话操作
	CreateSession(ctx context.Context, session *model.Session) error
	GetSessionByID(ctx context.Context, id string) (*model.Session, error)
	GetActiveSession(ctx context.Context, participantID, channelID string) (*model.Session, error)
	ListSessionsByParticipant(ctx context.Context, participantID string, offset, limit int) ([]*model.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	MarkArchived(ctx context.Context, id string) error
	ListIdleSessions(ctx context.Context, before time.Time) ([]*model.Session, error)

	// 消息操作
	// AppendMessage 原子地分配序号并写入消息（含附件与事件去重记录）
	AppendMessage(ctx context.Context, msg *model.Message, eventID string) (int64, error)
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]*model.Message, error)

	// 事件去重
	HasProcessedEvent(ctx context.Context, eventID string) (bool, error)
}

// 确保 ConversationRepository 实现了接口
var _ ConversationStore = (*ConversationRepository)(nil)
