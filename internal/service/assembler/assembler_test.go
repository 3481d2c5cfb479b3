// Package assembler 提供上下文组装单元测试
package assembler

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/jobifycvut/jobify-bot/internal/model"
	"github.com/jobifycvut/jobify-bot/internal/testutil"
)

func testHistory() []*model.Message {
	return []*model.Message{
		testutil.NewMessageFixture("s1", 1, model.RoleUser, "hi there"),
		testutil.NewMessageFixture("s1", 2, model.RoleAssistant, "hello, how can I help?"),
		testutil.NewMessageFixture("s1", 3, model.RoleUser, "find me an internship"),
	}
}

// ========== Build 测试 ==========

func TestBuildOrderAndRoles(t *testing.T) {
	a := NewAssembler(&Config{
		TokenBudget:  4000,
		DocCharLimit: 6000,
		SystemPrompt: "You are a helpful assistant.",
	})

	out, err := a.Build(testHistory())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(out) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(out))
	}
	if out[0].Role != schema.System {
		t.Errorf("expected system first, got %s", out[0].Role)
	}
	wantRoles := []schema.RoleType{schema.System, schema.User, schema.Assistant, schema.User}
	for i, want := range wantRoles {
		if out[i].Role != want {
			t.Errorf("entry %d: expected role %s, got %s", i, want, out[i].Role)
		}
	}
	if out[3].Content != "find me an internship" {
		t.Errorf("unexpected last entry content: %q", out[3].Content)
	}
}

func TestBuildDeterministic(t *testing.T) {
	a := NewAssembler(&Config{
		TokenBudget:  100,
		DocCharLimit: 50,
		SystemPrompt: "system prompt",
	})

	history := testHistory()
	history[2].Attachments = []model.Attachment{
		{FileName: "cv.pdf", Status: model.ExtractionSucceeded, ExtractedText: strings.Repeat("x", 200)},
	}

	first, err := a.Build(history)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	second, err := a.Build(history)
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("length differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Role != second[i].Role || first[i].Content != second[i].Content {
			t.Errorf("entry %d differs between identical builds", i)
		}
	}
}

func TestBuildEmptyHistory(t *testing.T) {
	a := NewAssembler(nil)
	if _, err := a.Build(nil); err == nil {
		t.Fatal("expected error for empty history")
	}
}

// ========== 附件 测试 ==========

func TestBuildAttachmentsOnNewestUserMessageOnly(t *testing.T) {
	a := NewAssembler(&Config{TokenBudget: 4000, DocCharLimit: 6000})

	history := testHistory()
	history[0].Attachments = []model.Attachment{
		{FileName: "old.pdf", Status: model.ExtractionSucceeded, ExtractedText: "old document"},
	}
	history[2].Attachments = []model.Attachment{
		{FileName: "cv.pdf", Status: model.ExtractionSucceeded, ExtractedText: "my resume"},
	}

	out, err := a.Build(history)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if strings.Contains(out[0].Content, "old.pdf") {
		t.Error("attachments of older messages must not be rendered")
	}
	last := out[len(out)-1].Content
	if !strings.Contains(last, "[Attached document: cv.pdf]") {
		t.Errorf("expected attachment header in newest user message, got %q", last)
	}
	if !strings.Contains(last, "my resume") {
		t.Error("expected extracted text in newest user message")
	}
	if !strings.Contains(last, "[End of document]") {
		t.Error("expected document terminator")
	}
}

func TestBuildFailedAttachmentPlaceholder(t *testing.T) {
	a := NewAssembler(&Config{TokenBudget: 4000, DocCharLimit: 6000})

	history := testHistory()
	history[2].Attachments = []model.Attachment{
		{FileName: "broken.docx", Status: model.ExtractionFailed},
	}

	out, err := a.Build(history)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	last := out[len(out)-1].Content
	if !strings.Contains(last, "[Attached document: broken.docx]") {
		t.Error("failed attachment must still be announced")
	}
	if !strings.Contains(last, "could not be read") {
		t.Errorf("expected failure placeholder, got %q", last)
	}
}

func TestBuildAttachmentTruncated(t *testing.T) {
	a := NewAssembler(&Config{TokenBudget: 100000, DocCharLimit: 10})

	history := testHistory()
	history[2].Attachments = []model.Attachment{
		{FileName: "big.txt", Status: model.ExtractionSucceeded, ExtractedText: strings.Repeat("a", 100)},
	}

	out, err := a.Build(history)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	last := out[len(out)-1].Content
	if !strings.Contains(last, "[truncated]") {
		t.Error("expected truncation marker")
	}
	if strings.Contains(last, strings.Repeat("a", 11)) {
		t.Error("document text exceeds the character limit")
	}
}

// ========== 预算裁剪 测试 ==========

func TestTrimDropsOldestFirst(t *testing.T) {
	a := NewAssembler(&Config{
		TokenBudget:  30,
		SystemPrompt: "sys",
	})

	history := []*model.Message{
		testutil.NewMessageFixture("s1", 1, model.RoleUser, strings.Repeat("old ", 20)),
		testutil.NewMessageFixture("s1", 2, model.RoleAssistant, strings.Repeat("mid ", 20)),
		testutil.NewMessageFixture("s1", 3, model.RoleUser, "latest question"),
	}

	out, err := a.Build(history)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	// system 保留，最新用户消息保留
	if out[0].Role != schema.System {
		t.Error("system prompt must survive trimming")
	}
	last := out[len(out)-1]
	if last.Content != "latest question" {
		t.Errorf("newest user message must survive trimming, got %q", last.Content)
	}
	for _, e := range out {
		if strings.Contains(e.Content, "old ") {
			t.Error("oldest message should have been dropped first")
		}
	}
}

func TestTrimKeepsOversizedNewestMessage(t *testing.T) {
	a := NewAssembler(&Config{TokenBudget: 5})

	history := []*model.Message{
		testutil.NewMessageFixture("s1", 1, model.RoleUser, strings.Repeat("question ", 50)),
	}

	out, err := a.Build(history)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("newest message must never be dropped, got %d entries", len(out))
	}
}
