// Package gateway 对接聊天平台网关适配器的出站侧
// 引擎只负责把回复交给适配器，线协议由适配器自理
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ReplySender 发送出站回复
type ReplySender interface {
	SendReply(ctx context.Context, channelID, text string) error
}

// WebhookSender 将回复 POST 到网关适配器的 Webhook
type WebhookSender struct {
	url    string
	client *http.Client
}

// replyPayload 出站回复载荷
type replyPayload struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// NewWebhookSender 创建 Webhook 发送器
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendReply 实现 ReplySender
func (s *WebhookSender) SendReply(ctx context.Context, channelID, text string) error {
	body, err := json.Marshal(replyPayload{ChannelID: channelID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway adapter rejected reply: status %d", resp.StatusCode)
	}
	return nil
}

// NopSender 丢弃回复，用于测试和同步模式
type NopSender struct{}

// SendReply 实现 ReplySender
func (NopSender) SendReply(ctx context.Context, channelID, text string) error {
	return nil
}
