package model

import "time"

// 会话状态
const (
	SessionActive   = "active"
	SessionArchived = "archived"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// 附件提取状态
const (
	ExtractionPending   = "pending"
	ExtractionSucceeded = "succeeded"
	ExtractionFailed    = "failed"
)

// Session 会话，对应一个 (参与者, 频道) 的进行中对话
type Session struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ParticipantID  string    `gorm:"index:idx_participant_channel;size:64"`
	ChannelID      string    `gorm:"index:idx_participant_channel;size:64"`
	State          string    `gorm:"index;size:20;default:active"`
	LastActivityAt time.Time `gorm:"index"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	Messages       []Message `gorm:"foreignKey:SessionID"`
}

// Message 一条对话消息，持久化后不可变
// (session_id, seq) 唯一索引保证序号不会重复落库
type Message struct {
	ID          string       `gorm:"primaryKey;size:36"`
	SessionID   string       `gorm:"uniqueIndex:idx_session_seq;size:36"`
	Seq         int64        `gorm:"uniqueIndex:idx_session_seq"`
	Role        string       `gorm:"size:20;index"` // user, assistant, system
	Content     string       `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"autoCreateTime;index"`
	Attachments []Attachment `gorm:"foreignKey:MessageID"`
}

// Attachment 消息附带的上传文档及其提取文本
type Attachment struct {
	ID            string    `gorm:"primaryKey;size:36"`
	MessageID     string    `gorm:"index;size:36"`
	FileName      string    `gorm:"size:255"`
	MimeType      string    `gorm:"size:100"`
	ExtractedText string    `gorm:"type:text"`
	Status        string    `gorm:"size:20;default:pending"` // pending, succeeded, failed
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// ProcessedEvent 已处理的入站事件，用于消息去重
// 与其产生的用户消息在同一事务内写入
type ProcessedEvent struct {
	EventID   string    `gorm:"primaryKey;size:64"`
	SessionID string    `gorm:"index;size:36"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ValidRole 校验消息角色
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ValidExtractionStatus 校验附件提取状态
func ValidExtractionStatus(status string) bool {
	switch status {
	case ExtractionPending, ExtractionSucceeded, ExtractionFailed:
		return true
	}
	return false
}

// TableName 指定表名
func (Session) TableName() string {
	return "sessions"
}

func (Message) TableName() string {
	return "messages"
}

func (Attachment) TableName() string {
	return "attachments"
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}
