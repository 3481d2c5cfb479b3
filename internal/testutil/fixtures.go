// Package testutil 提供测试辅助工具
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jobifycvut/jobify-bot/internal/model"
)

// ContextHelper 提供上下文相关的测试辅助
type ContextHelper struct{}

// NewContextHelper 创建上下文辅助器
func NewContextHelper() *ContextHelper {
	return &ContextHelper{}
}

// Context 返回测试用的 context.Background()
func (h *ContextHelper) Context() context.Context {
	return context.Background()
}

// CanceledContext 返回已取消的 context
func (h *ContextHelper) CanceledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertHelper 提供断言相关的测试辅助
type AssertHelper struct {
	t *testing.T
}

// NewAssertHelper 创建断言辅助器
func NewAssertHelper(t *testing.T) *AssertHelper {
	return &AssertHelper{t: t}
}

// NoError 断言没有错误
func (h *AssertHelper) NoError(err error, msgAndArgs ...interface{}) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("Unexpected error: %v %v", err, msgAndArgs)
	}
}

// Error 断言有错误
func (h *AssertHelper) Error(err error, msgAndArgs ...interface{}) {
	h.t.Helper()
	if err == nil {
		h.t.Fatal("Expected error, got nil")
	}
}

// Equal 断言相等
func (h *AssertHelper) Equal(expected, actual interface{}, msgAndArgs ...interface{}) {
	h.t.Helper()
	if expected != actual {
		h.t.Fatalf("Expected %v, got %v %v", expected, actual, msgAndArgs)
	}
}

// True 断言为真
func (h *AssertHelper) True(condition bool, msgAndArgs ...interface{}) {
	h.t.Helper()
	if !condition {
		h.t.Fatalf("Expected true, got false %v", msgAndArgs)
	}
}

// ========== 会话与消息 fixtures ==========

// NewSessionFixture 创建测试会话
func NewSessionFixture(participantID, channelID string) *model.Session {
	return &model.Session{
		ID:             fmt.Sprintf("sess-%s-%s", participantID, channelID),
		ParticipantID:  participantID,
		ChannelID:      channelID,
		State:          model.SessionActive,
		LastActivityAt: time.Now(),
	}
}

// NewMessageFixture 创建测试消息
func NewMessageFixture(sessionID string, seq int64, role, content string) *model.Message {
	return &model.Message{
		ID:        fmt.Sprintf("msg-%d", seq),
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
	}
}
