// Package dispatcher 按入站事件驱动整条流水线：
// 去重 → 获取会话 → 提取附件 → 落库用户消息 → 组装上下文 →
// 调用补全 → 落库助手消息 → 发送回复
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/jobifycvut/jobify-bot/internal/gateway"
	"github.com/jobifycvut/jobify-bot/internal/model"
	"github.com/jobifycvut/jobify-bot/internal/repository"
	"github.com/jobifycvut/jobify-bot/internal/service/assembler"
	"github.com/jobifycvut/jobify-bot/internal/service/completion"
	"github.com/jobifycvut/jobify-bot/internal/service/session"
	"github.com/redis/go-redis/v9"
)

// ErrOverloaded 事件队列已满，拒绝新流水线
var ErrOverloaded = errors.New("event queue full")

// ResetCommand 显式重置会话的指令
const ResetCommand = "!reset"

// 每轮上下文最多回读的历史条数，预算裁剪在其上进行
const historyLimit = 100

// 入站事件在 Redis 中的去重 TTL
const dedupTTL = 24 * time.Hour

// 用户可见提示语，内部错误文本绝不外泄
const (
	noticeRetryLater  = "I'm a bit overloaded right now. Please try again in a moment."
	noticeReplyFailed = "I received your message but couldn't come up with a reply. Please try again later."
	noticeInternal    = "Something went wrong on my side. Please try again."
	noticeReset       = "Conversation reset. Your next message starts a fresh session."
)

// InboundAttachment 入站事件携带的文档
type InboundAttachment struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// InboundEvent 网关适配器投递的入站事件
type InboundEvent struct {
	EventID       string              `json:"event_id"`
	ParticipantID string              `json:"participant_id"`
	ChannelID     string              `json:"channel_id"`
	Text          string              `json:"text"`
	Attachments   []InboundAttachment `json:"attachments"`
}

// Reply 流水线产出的回复
type Reply struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Completer 补全调用协作方
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (*completion.Result, error)
}

// Extractor 附件文本提取协作方
type Extractor interface {
	Extract(ctx context.Context, fileName, mimeType string, data []byte) (string, error)
}

// RedisCache 去重快路径所需的 Redis 能力
type RedisCache interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config 流水线配置
type Config struct {
	Workers           int           // 工作协程数
	QueueSize         int           // 事件队列容量
	Timeout           time.Duration // 整体超时
	ExtractionTimeout time.Duration // 附件提取超时
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:           8,
		QueueSize:         64,
		Timeout:           2 * time.Minute,
		ExtractionTimeout: 15 * time.Second,
	}
}

// Dispatcher 流水线调度器
type Dispatcher struct {
	sessions  *session.Manager
	store     repository.ConversationStore
	assembler *assembler.Assembler
	completer Completer
	extractor Extractor
	sender    gateway.ReplySender
	redis     RedisCache
	cfg       *Config

	queue chan *InboundEvent
	wg    sync.WaitGroup
	once  sync.Once
}

// NewDispatcher 创建调度器
func NewDispatcher(
	sessions *session.Manager,
	store repository.ConversationStore,
	asm *assembler.Assembler,
	completer Completer,
	extractor Extractor,
	sender gateway.ReplySender,
	cache RedisCache,
	cfg *Config,
) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Dispatcher{
		sessions:  sessions,
		store:     store,
		assembler: asm,
		completer: completer,
		extractor: extractor,
		sender:    sender,
		redis:     cache,
		cfg:       cfg,
		queue:     make(chan *InboundEvent, cfg.QueueSize),
	}
}

// Start 启动工作协程池
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for evt := range d.queue {
				if _, err := d.Dispatch(context.Background(), evt); err != nil {
					log.Printf("pipeline failed for event %s: %v", evt.EventID, err)
				}
			}
		}()
	}
}

// Submit 将事件入队，队列已满返回 ErrOverloaded
func (d *Dispatcher) Submit(evt *InboundEvent) error {
	select {
	case d.queue <- evt:
		return nil
	default:
		return ErrOverloaded
	}
}

// Shutdown 关闭队列并等待在途流水线完成
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() { close(d.queue) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch 同步执行一条流水线
// 会话槽通过 defer 归还，任何退出路径都不会把槽留在持有状态
func (d *Dispatcher) Dispatch(ctx context.Context, evt *InboundEvent) (*Reply, error) {
	if err := validateEvent(evt); err != nil {
		return nil, err
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	// 事件去重：Redis 键只是线索，processed_events 表为准
	dup, err := d.seenEvent(ctx, evt.EventID)
	if err != nil {
		d.releaseDedup(evt.EventID)
		d.notify(evt.ChannelID, noticeRetryLater)
		return nil, err
	}
	if dup {
		return &Reply{ChannelID: evt.ChannelID, Duplicate: true}, nil
	}

	// 重置指令不走补全流水线
	if strings.TrimSpace(evt.Text) == ResetCommand {
		return d.handleReset(ctx, evt)
	}

	handle, err := d.sessions.Acquire(ctx, evt.ParticipantID, evt.ChannelID)
	if err != nil {
		d.releaseDedup(evt.EventID)
		d.notify(evt.ChannelID, acquireNotice(err))
		return nil, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer d.sessions.Release(handle)

	sess := handle.Session

	// 附件提取失败只降级，不中断本轮对话
	attachments := d.extractAttachments(ctx, evt.Attachments)

	userMsg := &model.Message{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		Role:        model.RoleUser,
		Content:     evt.Text,
		Attachments: attachments,
	}
	if _, err := d.store.AppendMessage(ctx, userMsg, evt.EventID); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			return &Reply{ChannelID: evt.ChannelID, Duplicate: true}, nil
		}
		// 消息未落库，撤销快路径认领，让重投递重新走完整流水线
		d.releaseDedup(evt.EventID)
		d.notify(evt.ChannelID, noticeRetryLater)
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	// 用户消息已落库：此后任何失败都要告知用户回复未产生
	history, err := d.store.LoadHistory(ctx, sess.ID, historyLimit)
	if err != nil {
		d.notify(evt.ChannelID, noticeReplyFailed)
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	prompt, err := d.assembler.Build(history)
	if err != nil {
		d.notify(evt.ChannelID, noticeInternal)
		return nil, fmt.Errorf("failed to assemble context: %w", err)
	}

	result, err := d.completer.Complete(ctx, prompt)
	if err != nil {
		d.notify(evt.ChannelID, completionNotice(err))
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	assistantMsg := &model.Message{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Role:      model.RoleAssistant,
		Content:   result.Text,
	}
	if _, err := d.store.AppendMessage(ctx, assistantMsg, ""); err != nil {
		d.notify(evt.ChannelID, noticeReplyFailed)
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	log.Printf("turn completed: session=%s seq=%d tokens=%d/%d latency=%v",
		sess.ID, assistantMsg.Seq, result.PromptTokens, result.CompletionTokens, result.Latency)

	if err := d.sender.SendReply(ctx, evt.ChannelID, result.Text); err != nil {
		return nil, fmt.Errorf("failed to send reply: %w", err)
	}

	return &Reply{ChannelID: evt.ChannelID, Text: result.Text}, nil
}

// handleReset 处理显式重置指令
func (d *Dispatcher) handleReset(ctx context.Context, evt *InboundEvent) (*Reply, error) {
	if err := d.sessions.Reset(ctx, evt.ParticipantID, evt.ChannelID); err != nil {
		d.releaseDedup(evt.EventID)
		d.notify(evt.ChannelID, acquireNotice(err))
		return nil, fmt.Errorf("failed to reset session: %w", err)
	}
	d.notify(evt.ChannelID, noticeReset)
	return &Reply{ChannelID: evt.ChannelID, Text: noticeReset}, nil
}

// extractAttachments 在独立超时内提取附件文本
func (d *Dispatcher) extractAttachments(ctx context.Context, inbound []InboundAttachment) []model.Attachment {
	if len(inbound) == 0 {
		return nil
	}

	attachments := make([]model.Attachment, 0, len(inbound))
	for _, att := range inbound {
		attachments = append(attachments, d.extractOne(ctx, att))
	}
	return attachments
}

// extractOne 提取单个附件
func (d *Dispatcher) extractOne(ctx context.Context, att InboundAttachment) model.Attachment {
	if d.cfg.ExtractionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ExtractionTimeout)
		defer cancel()
	}

	record := model.Attachment{
		ID:       uuid.New().String(),
		FileName: att.FileName,
		MimeType: att.MimeType,
	}

	text, err := d.extractor.Extract(ctx, att.FileName, att.MimeType, att.Data)
	if err != nil {
		log.Printf("extraction failed for %s: %v", att.FileName, err)
		record.Status = model.ExtractionFailed
		return record
	}

	record.Status = model.ExtractionSucceeded
	record.ExtractedText = text
	return record
}

// seenEvent 检查事件是否已处理
// Redis 认领只拦截并发重投递，已完成与否始终以 processed_events 表为准：
// 失败的流水线会撤销认领，因此陈旧的 Redis 键绝不会导致事件丢失
func (d *Dispatcher) seenEvent(ctx context.Context, eventID string) (bool, error) {
	if d.redis == nil {
		return d.store.HasProcessedEvent(ctx, eventID)
	}

	ok, err := d.redis.SetNX(ctx, dedupKey(eventID), 1, dedupTTL).Result()
	if err != nil {
		log.Printf("Warning: redis dedup claim failed: %v", err)
		return d.store.HasProcessedEvent(ctx, eventID)
	}
	if ok {
		// 首个认领；万一 Redis 丢过数据，落库事务的唯一键仍会兜底
		return false, nil
	}

	return d.store.HasProcessedEvent(ctx, eventID)
}

// releaseDedup 流水线在消息落库前失败时撤销 Redis 认领
// 落库之后的失败不撤销：事件已有持久记录，重投递应判为重复
func (d *Dispatcher) releaseDedup(eventID string) {
	if d.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.redis.Del(ctx, dedupKey(eventID)).Err(); err != nil {
		log.Printf("Warning: failed to release dedup claim for %s: %v", eventID, err)
	}
}

// dedupKey 事件去重键
func dedupKey(eventID string) string {
	return "event:seen:" + eventID
}

// notify 尽力而为地给用户发送提示
// 流水线上下文可能已取消，用独立的短超时
func (d *Dispatcher) notify(channelID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.sender.SendReply(ctx, channelID, text); err != nil {
		log.Printf("Warning: failed to deliver notice to %s: %v", channelID, err)
	}
}

// validateEvent 校验入站事件
func validateEvent(evt *InboundEvent) error {
	if evt == nil {
		return fmt.Errorf("event is nil")
	}
	if evt.EventID == "" {
		return fmt.Errorf("event id is required")
	}
	if evt.ParticipantID == "" || evt.ChannelID == "" {
		return fmt.Errorf("participant id and channel id are required")
	}
	if strings.TrimSpace(evt.Text) == "" && len(evt.Attachments) == 0 {
		return fmt.Errorf("event has no content")
	}
	return nil
}

// acquireNotice 会话获取失败的用户提示
func acquireNotice(err error) string {
	if errors.Is(err, session.ErrSessionUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return noticeRetryLater
	}
	if errors.Is(err, repository.ErrStorageUnavailable) {
		return noticeRetryLater
	}
	return noticeInternal
}

// completionNotice 补全失败的用户提示
func completionNotice(err error) string {
	var transient *completion.TransientError
	if errors.Is(err, completion.ErrProviderUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &transient) {
		return noticeReplyFailed
	}
	return noticeInternal
}
