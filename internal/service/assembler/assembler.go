// Package assembler 构建发送给补全服务的有界上下文
// 给定相同的会话快照，输出逐字节一致
package assembler

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/jobifycvut/jobify-bot/internal/model"
)

// Config 上下文组装配置
type Config struct {
	TokenBudget  int    // 上下文 Token 预算
	DocCharLimit int    // 单文档字符上限
	SystemPrompt string // 系统提示词
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		TokenBudget:  4000,
		DocCharLimit: 6000,
	}
}

// Assembler 上下文组装器
type Assembler struct {
	cfg *Config
}

// NewAssembler 创建上下文组装器
func NewAssembler(cfg *Config) *Assembler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Assembler{cfg: cfg}
}

// Build 将会话历史组装为补全请求的消息列表
// history 按序号升序排列，末尾应为本轮用户消息
// 超出预算时从最旧的非 system 消息开始丢弃，最新的用户消息永不丢弃
func (a *Assembler) Build(history []*model.Message) ([]*schema.Message, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("history is empty")
	}

	entries := make([]*schema.Message, 0, len(history)+1)
	if a.cfg.SystemPrompt != "" {
		entries = append(entries, &schema.Message{
			Role:    schema.System,
			Content: a.cfg.SystemPrompt,
		})
	}

	lastUser := newestUserIndex(history)

	for i, msg := range history {
		content := msg.Content
		// 附件文本只接在本轮用户消息之后，并与对话内容明确区分
		if i == lastUser {
			content = content + a.renderAttachments(msg.Attachments)
		}
		entries = append(entries, &schema.Message{
			Role:    roleToSchema(msg.Role),
			Content: content,
		})
	}

	return a.trimToBudget(entries), nil
}

// trimToBudget 滑动窗口裁剪：丢最旧的非 system 消息直至进入预算
// 列表末尾是本轮用户消息，永不丢弃
func (a *Assembler) trimToBudget(entries []*schema.Message) []*schema.Message {
	if a.cfg.TokenBudget <= 0 {
		return entries
	}

	for estimateTokens(entries) > a.cfg.TokenBudget {
		dropped := false
		for i, e := range entries {
			if e.Role == schema.System {
				continue
			}
			if i == len(entries)-1 {
				break // 只剩最新一条，不可再丢
			}
			entries = append(entries[:i], entries[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			break
		}
	}
	return entries
}

// renderAttachments 渲染附件为标注过的 grounding 文本
// 提取失败的附件保留占位说明，不能静默丢弃
func (a *Assembler) renderAttachments(attachments []model.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, att := range attachments {
		name := att.FileName
		if name == "" {
			name = "document"
		}
		sb.WriteString("\n\n[Attached document: ")
		sb.WriteString(name)
		sb.WriteString("]\n")

		switch att.Status {
		case model.ExtractionSucceeded:
			sb.WriteString(truncate(att.ExtractedText, a.cfg.DocCharLimit))
		case model.ExtractionFailed:
			sb.WriteString("(The document could not be read. Its content is unavailable; let the user know.)")
		default:
			sb.WriteString("(The document is still being processed and its content is not yet available.)")
		}
		sb.WriteString("\n[End of document]")
	}
	return sb.String()
}

// newestUserIndex 定位最新的用户消息
func newestUserIndex(history []*model.Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			return i
		}
	}
	return -1
}

// roleToSchema 将存储角色转换为 schema.RoleType
func roleToSchema(role string) schema.RoleType {
	switch role {
	case model.RoleSystem:
		return schema.System
	case model.RoleAssistant:
		return schema.Assistant
	case model.RoleUser:
		return schema.User
	default:
		return schema.User
	}
}

// estimateTokens 估算消息列表的 Token 数（约 4 字符/Token）
func estimateTokens(entries []*schema.Message) int {
	total := 0
	for _, e := range entries {
		total += (len(e.Content) + 3) / 4
	}
	return total
}

// truncate 截断超长文本并追加标记
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... [truncated]"
}
