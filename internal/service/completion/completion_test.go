// Package completion 提供补全客户端单元测试
package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// stubChatModel 按脚本返回响应的 Mock ChatModel
type stubChatModel struct {
	mu      sync.Mutex
	calls   int
	replies []stubReply
}

type stubReply struct {
	msg *schema.Message
	err error
}

func (s *stubChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	r := s.replies[idx]
	return r.msg, r.err
}

func (s *stubChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (s *stubChatModel) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func okReply(text string) stubReply {
	return stubReply{msg: &schema.Message{
		Role:    schema.Assistant,
		Content: text,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
		},
	}}
}

func errReply(msg string) stubReply {
	return stubReply{err: errors.New(msg)}
}

func newTestClient(stub *stubChatModel, cfg *Config) *Client {
	c := NewClient(stub, cfg)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func testMessages() []*schema.Message {
	return []*schema.Message{{Role: schema.User, Content: "hello"}}
}

// ========== 重试 测试 ==========

func TestCompleteSuccessFirstAttempt(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{okReply("hi!")}}
	c := newTestClient(stub, nil)

	result, err := c.Complete(context.Background(), testMessages())
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if result.Text != "hi!" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.PromptTokens != 10 || result.CompletionTokens != 5 {
		t.Errorf("unexpected usage: %d/%d", result.PromptTokens, result.CompletionTokens)
	}
	if stub.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", stub.callCount())
	}
}

func TestCompleteRetriesTransientThenSucceeds(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{
		errReply("status code: 500 internal server error"),
		errReply("429 too many requests"),
		okReply("third time lucky"),
	}}
	c := newTestClient(stub, &Config{
		MaxAttempts:      3,
		BackoffBase:      time.Millisecond,
		BackoffMax:       time.Millisecond,
		BreakerThreshold: 100,
		BreakerCooldown:  time.Second,
	})

	result, err := c.Complete(context.Background(), testMessages())
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if result.Text != "third time lucky" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if stub.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", stub.callCount())
	}
}

func TestCompletePermanentErrorNoRetry(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{
		errReply("status code: 400 invalid request"),
	}}
	c := newTestClient(stub, &Config{
		MaxAttempts:      3,
		BreakerThreshold: 100,
	})

	_, err := c.Complete(context.Background(), testMessages())
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
	if stub.callCount() != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", stub.callCount())
	}
}

func TestCompleteExhaustsAttempts(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{
		errReply("connection refused"),
	}}
	c := newTestClient(stub, &Config{
		MaxAttempts:      3,
		BackoffBase:      time.Millisecond,
		BreakerThreshold: 100,
	})

	_, err := c.Complete(context.Background(), testMessages())
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if transient.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", transient.Attempts)
	}
	if stub.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", stub.callCount())
	}
}

// ========== 熔断 测试 ==========

func TestBreakerOpensAfterThreshold(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{
		errReply("service unavailable"),
	}}
	c := newTestClient(stub, &Config{
		MaxAttempts:      2,
		BackoffBase:      time.Millisecond,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	})

	// 两轮调用共 4 次失败，第 3 次已触发熔断并提前放弃
	c.Complete(context.Background(), testMessages())
	c.Complete(context.Background(), testMessages())

	if stub.callCount() != 3 {
		t.Errorf("expected breaker to stop after 3 failures, got %d calls", stub.callCount())
	}

	// 熔断打开期间直接短路
	_, err := c.Complete(context.Background(), testMessages())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if stub.callCount() != 3 {
		t.Errorf("open breaker must not call provider, got %d calls", stub.callCount())
	}
}

func TestPermanentFailuresDontTripBreaker(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{
		errReply("status code: 400 bad request"),
	}}
	c := newTestClient(stub, &Config{
		MaxAttempts:      1,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	})

	// 一连串格式错误的请求不代表服务方不健康
	for i := 0; i < 5; i++ {
		_, err := c.Complete(context.Background(), testMessages())
		var perm *PermanentError
		if !errors.As(err, &perm) {
			t.Fatalf("call %d: expected PermanentError, got %v", i, err)
		}
	}

	c.mu.Lock()
	open := !c.openUntil.IsZero()
	c.mu.Unlock()
	if open {
		t.Error("permanent failures must not open the breaker")
	}
	if stub.callCount() != 5 {
		t.Errorf("expected all 5 calls to reach the provider, got %d", stub.callCount())
	}
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{okReply("back online")}}
	c := newTestClient(stub, &Config{
		MaxAttempts:      1,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Minute,
	})

	// 人为打开熔断器并让冷却期已过
	c.mu.Lock()
	c.openUntil = time.Now().Add(-time.Second)
	c.mu.Unlock()

	result, err := c.Complete(context.Background(), testMessages())
	if err != nil {
		t.Fatalf("complete failed after cooldown: %v", err)
	}
	if result.Text != "back online" {
		t.Errorf("unexpected text: %q", result.Text)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	stub := &stubChatModel{replies: []stubReply{
		errReply("timeout"),
		okReply("recovered"),
		errReply("timeout"),
		okReply("recovered again"),
	}}
	c := newTestClient(stub, &Config{
		MaxAttempts:      2,
		BackoffBase:      time.Millisecond,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	})

	if _, err := c.Complete(context.Background(), testMessages()); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}
	if _, err := c.Complete(context.Background(), testMessages()); err != nil {
		t.Fatalf("second complete failed: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.openUntil.IsZero() {
		t.Error("breaker must not open when failures are interleaved with successes")
	}
}

// ========== 退避与分类 测试 ==========

func TestBackoffBounded(t *testing.T) {
	c := newTestClient(&stubChatModel{replies: []stubReply{okReply("")}}, &Config{
		MaxAttempts: 5,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  400 * time.Millisecond,
	})

	for attempt := 1; attempt <= 5; attempt++ {
		d := c.backoff(attempt)
		if d > 400*time.Millisecond {
			t.Errorf("attempt %d: backoff %v exceeds cap", attempt, d)
		}
		if d < 50*time.Millisecond {
			t.Errorf("attempt %d: backoff %v below half of base", attempt, d)
		}
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"http 500", fmt.Errorf("status code: 500"), true},
		{"rate limit", fmt.Errorf("rate limit exceeded"), true},
		{"429", fmt.Errorf("429 Too Many Requests"), true},
		{"connection reset", fmt.Errorf("read: connection reset by peer"), true},
		{"eof", fmt.Errorf("unexpected EOF"), true},
		{"bad request", fmt.Errorf("status code: 400 bad request"), false},
		{"auth", fmt.Errorf("status code: 401 unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultClassifier(tt.err); got != tt.transient {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.transient)
			}
		})
	}
}
