package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jobifycvut/jobify-bot/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository 会话数据访问
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CreateSession 创建会话
func (r *ConversationRepository) CreateSession(ctx context.Context, session *model.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

// GetSessionByID 获取会话
func (r *ConversationRepository) GetSessionByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, wrapStorageErr(err)
	}
	return &session, nil
}

// GetActiveSession 获取 (参与者, 频道) 的活跃会话
func (r *ConversationRepository) GetActiveSession(ctx context.Context, participantID, channelID string) (*model.Session, error) {
	var session model.Session
	err := r.db.WithContext(ctx).
		Where("participant_id = ? AND channel_id = ? AND state = ?", participantID, channelID, model.SessionActive).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, wrapStorageErr(err)
	}
	return &session, nil
}

// ListSessionsByParticipant 列出参与者的会话
func (r *ConversationRepository) ListSessionsByParticipant(ctx context.Context, participantID string, offset, limit int) ([]*model.Session, error) {
	var sessions []*model.Session
	err := r.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("last_activity_at DESC").
		Offset(offset).Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return sessions, nil
}

// TouchSession 更新会话活跃时间
func (r *ConversationRepository) TouchSession(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Update("last_activity_at", at).Error
	if err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

// MarkArchived 归档会话
func (r *ConversationRepository) MarkArchived(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Update("state", model.SessionArchived).Error
	if err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

// ListIdleSessions 列出活跃但已超过空闲阈值的会话
func (r *ConversationRepository) ListIdleSessions(ctx context.Context, before time.Time) ([]*model.Session, error) {
	var sessions []*model.Session
	err := r.db.WithContext(ctx).
		Where("state = ? AND last_activity_at < ?", model.SessionActive, before).
		Find(&sessions).Error
	if err != nil {
		return nil, wrapStorageErr(err)
	}
	return sessions, nil
}

// AppendMessage 原子地追加一条消息
// 在同一事务内：锁定会话行、分配下一个序号、写入消息与附件，
// 以及（如有 eventID）写入事件去重记录。
// 序号由仓库分配；调用方预置的 Seq 若与下一序号不符则拒绝。
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *model.Message, eventID string) (int64, error) {
	if !model.ValidRole(msg.Role) {
		return 0, fmt.Errorf("invalid message role: %s", msg.Role)
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].Status == "" {
			msg.Attachments[i].Status = model.ExtractionPending
		}
		if !model.ValidExtractionStatus(msg.Attachments[i].Status) {
			return 0, fmt.Errorf("invalid extraction status: %s", msg.Attachments[i].Status)
		}
	}

	var assigned int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁定会话行，串行化同会话的序号分配
		var session model.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", msg.SessionID).
			First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}

		var lastSeq int64
		row := tx.Model(&model.Message{}).
			Where("session_id = ?", msg.SessionID).
			Select("COALESCE(MAX(seq), 0)").
			Row()
		if err := row.Scan(&lastSeq); err != nil {
			return err
		}

		next := lastSeq + 1
		if msg.Seq != 0 && msg.Seq != next {
			return fmt.Errorf("%w: got %d, want %d", ErrSequenceConflict, msg.Seq, next)
		}
		msg.Seq = next

		if eventID != "" {
			event := &model.ProcessedEvent{EventID: eventID, SessionID: msg.SessionID}
			if err := tx.Create(event).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrDuplicateEvent
				}
				return err
			}
		}

		// 附件随消息一并写入
		if err := tx.Create(msg).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: seq %d already persisted", ErrSequenceConflict, msg.Seq)
			}
			return err
		}

		assigned = msg.Seq
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSequenceConflict) || errors.Is(err, ErrDuplicateEvent) || errors.Is(err, ErrSessionNotFound) {
			return 0, err
		}
		return 0, wrapStorageErr(err)
	}

	return assigned, nil
}

// LoadHistory 按序号升序加载会话消息（含附件）
// limit <= 0 表示不限制；limit > 0 返回最近的 limit 条
func (r *ConversationRepository) LoadHistory(ctx context.Context, sessionID string, limit int) ([]*model.Message, error) {
	var messages []*model.Message
	query := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("session_id = ?", sessionID)

	if limit > 0 {
		// 先取最近 limit 条，再翻转为升序
		err := query.Order("seq DESC").Limit(limit).Find(&messages).Error
		if err != nil {
			return nil, wrapStorageErr(err)
		}
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
		return messages, nil
	}

	if err := query.Order("seq ASC").Find(&messages).Error; err != nil {
		return nil, wrapStorageErr(err)
	}
	return messages, nil
}

// HasProcessedEvent 检查入站事件是否已处理
func (r *ConversationRepository) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, wrapStorageErr(err)
	}
	return count > 0, nil
}

// wrapStorageErr 将底层数据库错误统一包装为 ErrStorageUnavailable
func wrapStorageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
