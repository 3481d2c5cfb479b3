// Package completion 封装对外部补全服务的弹性调用
// 瞬时失败指数退避重试，连续失败触发熔断
package completion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrProviderUnavailable 熔断器打开，短路新调用
var ErrProviderUnavailable = errors.New("completion provider unavailable")

// TransientError 瞬时失败（网络错误、5xx、限流、超时），可重试
type TransientError struct {
	Err      error
	Attempts int
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError 永久失败（非限流 4xx、请求格式错误），不重试
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Classifier 判断错误是否为瞬时失败
// 不同供应商的错误形态不同，允许按需覆盖
type Classifier func(err error) bool

// Config 补全客户端配置
type Config struct {
	MaxAttempts      int           // 最大尝试次数
	AttemptTimeout   time.Duration // 单次尝试硬超时
	BackoffBase      time.Duration // 退避基数
	BackoffMax       time.Duration // 退避上限
	BreakerThreshold int           // 熔断连续失败阈值
	BreakerCooldown  time.Duration // 熔断冷却时间
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:      3,
		AttemptTimeout:   30 * time.Second,
		BackoffBase:      500 * time.Millisecond,
		BackoffMax:       8 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Result 补全结果，usage 与延迟仅用于观测
type Result struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Client 补全客户端
type Client struct {
	chatModel  einomodel.BaseChatModel
	cfg        *Config
	classify   Classifier
	sleep      func(ctx context.Context, d time.Duration) error

	// 熔断器状态，跨所有会话共享
	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewClient 创建补全客户端
func NewClient(chatModel einomodel.BaseChatModel, cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		chatModel: chatModel,
		cfg:       cfg,
		classify:  defaultClassifier,
		sleep:     sleepCtx,
	}
}

// SetClassifier 覆盖瞬时错误判定
func (c *Client) SetClassifier(fn Classifier) {
	if fn != nil {
		c.classify = fn
	}
}

// Complete 调用补全服务
// 最多 MaxAttempts 次，只重试瞬时失败；成功的响应绝不重试
func (c *Client) Complete(ctx context.Context, messages []*schema.Message) (*Result, error) {
	if c.breakerOpen() {
		return nil, ErrProviderUnavailable
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		resp, err := c.generate(ctx, messages)
		if err == nil {
			c.recordSuccess()
			return buildResult(resp, time.Since(start)), nil
		}

		// 永久失败不计入熔断：格式错误的请求不说明服务方不健康
		if !c.classify(err) {
			return nil, &PermanentError{Err: err}
		}
		tripped := c.recordFailure()
		lastErr = err
		log.Printf("completion attempt %d/%d failed: %v", attempt, c.cfg.MaxAttempts, err)

		if tripped {
			break // 熔断已打开，放弃剩余重试
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return nil, &TransientError{Err: err, Attempts: attempt}
		}
	}

	return nil, &TransientError{Err: lastErr, Attempts: c.cfg.MaxAttempts}
}

// generate 单次带硬超时的调用
func (c *Client) generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	attemptCtx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}
	return c.chatModel.Generate(attemptCtx, messages)
}

// backoff 计算第 attempt 次失败后的退避时长（指数 + 抖动）
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << (attempt - 1)
	if c.cfg.BackoffMax > 0 && d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	if d <= 0 {
		return 0
	}
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(half+1))
}

// breakerOpen 检查熔断器是否处于打开状态
func (c *Client) breakerOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.openUntil)
}

// recordSuccess 成功后重置熔断计数
func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}

// recordFailure 记录失败，达到阈值则打开熔断器
func (c *Client) recordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	if c.failures >= c.cfg.BreakerThreshold {
		c.openUntil = time.Now().Add(c.cfg.BreakerCooldown)
		c.failures = 0
		log.Printf("completion circuit breaker opened for %v", c.cfg.BreakerCooldown)
		return true
	}
	return false
}

// buildResult 从响应消息构造结果
func buildResult(resp *schema.Message, latency time.Duration) *Result {
	result := &Result{
		Text:    resp.Content,
		Latency: latency,
	}
	if resp.ResponseMeta != nil {
		result.FinishReason = resp.ResponseMeta.FinishReason
		if resp.ResponseMeta.Usage != nil {
			result.PromptTokens = resp.ResponseMeta.Usage.PromptTokens
			result.CompletionTokens = resp.ResponseMeta.Usage.CompletionTokens
		}
	}
	return result
}

// defaultClassifier 默认瞬时错误判定
// 超时、网络错误、5xx 和限流视为瞬时；其余视为永久
func defaultClassifier(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"status code: 5",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"429",
		"rate limit",
		"too many requests",
		"connection refused",
		"connection reset",
		"timeout",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// sleepCtx 可被 ctx 取消的休眠
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
