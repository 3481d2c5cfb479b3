// Package session 提供会话生命周期与单写者锁管理
// 每个 (参与者, 频道) 对应一个执行槽，同一会话的流水线严格串行
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobifycvut/jobify-bot/internal/model"
	"github.com/jobifycvut/jobify-bot/internal/repository"
	"github.com/redis/go-redis/v9"
)

const (
	// 活跃时间在 Redis 中的 key 前缀
	activityKeyPrefix = "session:activity:"
)

// ErrSessionUnavailable 会话排队已满，调用方应提示稍后重试
var ErrSessionUnavailable = errors.New("session queue full")

// Config 会话管理配置
type Config struct {
	IdleTimeout   time.Duration // 空闲归档阈值
	MaxQueueDepth int           // 单会话最大排队数
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		IdleTimeout:   30 * time.Minute,
		MaxQueueDepth: 8,
	}
}

// Manager 会话管理器
// 通过每会话执行槽保证同一会话同一时刻至多一个流水线在执行
type Manager struct {
	mu    sync.Mutex
	slots map[string]*slot
	store repository.ConversationStore
	redis *redis.Client
	cfg   *Config
}

// slot 每会话执行槽
// ch 容量为 1，token 在槽空闲时可取；refs 为持有者与排队者总数
type slot struct {
	ch   chan struct{}
	refs int
}

// Handle 已获取的会话句柄
type Handle struct {
	Session *model.Session
	key     string
}

// NewManager 创建会话管理器
func NewManager(store repository.ConversationStore, redisClient *redis.Client, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Manager{
		slots: make(map[string]*slot),
		store: store,
		redis: redisClient,
		cfg:   cfg,
	}
}

// slotKey 生成执行槽 key
func slotKey(participantID, channelID string) string {
	return participantID + ":" + channelID
}

// Acquire 获取 (参与者, 频道) 的会话并独占其执行槽
// 槽被占用时协作排队；排队深度超过上限立即返回 ErrSessionUnavailable
func (m *Manager) Acquire(ctx context.Context, participantID, channelID string) (*Handle, error) {
	key := slotKey(participantID, channelID)

	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		s.ch <- struct{}{}
		m.slots[key] = s
	}
	// refs 含当前持有者，排队者为 refs-1
	if s.refs > m.cfg.MaxQueueDepth {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionUnavailable, key)
	}
	s.refs++
	m.mu.Unlock()

	select {
	case <-s.ch:
		// 槽到手
	case <-ctx.Done():
		m.unref(key, s)
		return nil, ctx.Err()
	}

	sess, err := m.resolveSession(ctx, participantID, channelID)
	if err != nil {
		s.ch <- struct{}{}
		m.unref(key, s)
		return nil, err
	}

	return &Handle{Session: sess, key: key}, nil
}

// Release 归还执行槽并更新活跃时间
// 必须在流水线结束时调用，无论成功或失败
func (m *Manager) Release(handle *Handle) {
	if handle == nil {
		return
	}

	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.TouchSession(ctx, handle.Session.ID, now); err != nil {
		log.Printf("Warning: failed to touch session %s: %v", handle.Session.ID, err)
	}
	m.cacheActivity(ctx, handle.Session.ID, now)

	m.mu.Lock()
	s, ok := m.slots[handle.key]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.ch <- struct{}{}
	m.unref(handle.key, s)
}

// Reset 显式重置会话：归档当前活跃会话
// 下一条消息会创建全新会话，不复用旧 id
func (m *Manager) Reset(ctx context.Context, participantID, channelID string) error {
	handle, err := m.Acquire(ctx, participantID, channelID)
	if err != nil {
		return err
	}
	defer m.Release(handle)

	if err := m.store.MarkArchived(ctx, handle.Session.ID); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

// ExpireIdle 归档超过空闲阈值的会话
// 只归档执行槽当前空闲的会话，绝不与进行中的获取竞争
func (m *Manager) ExpireIdle(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-m.cfg.IdleTimeout)
	idle, err := m.store.ListIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle sessions: %w", err)
	}

	archived := 0
	for _, sess := range idle {
		key := slotKey(sess.ParticipantID, sess.ChannelID)
		if !m.tryLock(key) {
			continue // 会话正忙，下轮再看
		}

		if err := m.store.MarkArchived(ctx, sess.ID); err != nil {
			log.Printf("Warning: failed to archive idle session %s: %v", sess.ID, err)
		} else {
			archived++
		}
		m.unlock(key)
	}

	return archived, nil
}

// resolveSession 返回活跃会话，不存在则新建
func (m *Manager) resolveSession(ctx context.Context, participantID, channelID string) (*model.Session, error) {
	sess, err := m.store.GetActiveSession(ctx, participantID, channelID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, err
	}

	sess = &model.Session{
		ID:             uuid.New().String(),
		ParticipantID:  participantID,
		ChannelID:      channelID,
		State:          model.SessionActive,
		LastActivityAt: time.Now(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// tryLock 非阻塞获取执行槽
func (m *Manager) tryLock(key string) bool {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		s.ch <- struct{}{}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case <-s.ch:
		return true
	default:
		m.unref(key, s)
		return false
	}
}

// unlock 归还 tryLock 获取的执行槽
func (m *Manager) unlock(key string) {
	m.mu.Lock()
	s, ok := m.slots[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.ch <- struct{}{}
	m.unref(key, s)
}

// unref 递减槽引用计数，无人引用时回收槽
func (m *Manager) unref(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.refs--
	if s.refs <= 0 {
		delete(m.slots, key)
	}
}

// cacheActivity 将活跃时间写入 Redis
func (m *Manager) cacheActivity(ctx context.Context, sessionID string, at time.Time) {
	if m.redis == nil {
		return
	}
	key := activityKeyPrefix + sessionID
	if err := m.redis.Set(ctx, key, at.Format(time.RFC3339), m.cfg.IdleTimeout).Err(); err != nil {
		log.Printf("Warning: failed to cache session activity: %v", err)
	}
}
