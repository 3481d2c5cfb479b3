// Package extraction 从上传的文档字节中提取纯文本
// 直接使用 eino-ext 的文档解析组件，避免冗余封装
package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/parser/docx"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoparser "github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// Service 文档文本提取服务
type Service struct{}

// NewService 创建提取服务
func NewService() *Service {
	return &Service{}
}

// Extract 提取文档纯文本
// 不支持的类型或解析失败返回错误，由调用方降级处理
func (s *Service) Extract(ctx context.Context, fileName, mimeType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("document %s is empty", fileName)
	}

	fileParser, err := newParser(ctx, fileName, mimeType)
	if err != nil {
		return "", err
	}

	docs, err := fileParser.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parser failed for %s: %w", fileName, err)
	}

	var sb strings.Builder
	for _, d := range docs {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Content)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no text extracted from %s", fileName)
	}
	return text, nil
}

// newParser 按类型创建解析器
func newParser(ctx context.Context, fileName, mimeType string) (einoparser.Parser, error) {
	switch normalizeType(fileName, mimeType) {
	case "pdf":
		return pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	case "docx":
		return docx.NewDocxParser(ctx, &docx.Config{
			ToSections:      false,
			IncludeComments: false,
			IncludeHeaders:  true,
			IncludeFooters:  false,
			IncludeTables:   true,
		})
	case "text":
		return &textParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported document type: %s (%s)", mimeType, fileName)
	}
}

// normalizeType 归一化文档类型，MIME 优先，退回扩展名
func normalizeType(fileName, mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return "pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "text/plain", "text/markdown":
		return "text"
	}

	switch getFileExt(fileName) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	case ".txt", ".md":
		return "text"
	}
	return ""
}

// textParser 纯文本解析器
type textParser struct{}

func (p *textParser) Parse(_ context.Context, reader io.Reader, opts ...einoparser.Option) ([]*schema.Document, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}

	text := string(content)
	if text == "" {
		return []*schema.Document{}, nil
	}

	return []*schema.Document{
		{
			Content:  text,
			MetaData: make(map[string]any),
		},
	}, nil
}

// 辅助函数
func getFileExt(filePath string) string {
	for i := len(filePath) - 1; i >= 0; i-- {
		if filePath[i] == '.' {
			return strings.ToLower(filePath[i:])
		}
	}
	return ""
}
