package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/jobifycvut/jobify-bot/internal/config"
	"github.com/jobifycvut/jobify-bot/internal/gateway"
	"github.com/jobifycvut/jobify-bot/internal/repository"
	"github.com/jobifycvut/jobify-bot/internal/service/assembler"
	"github.com/jobifycvut/jobify-bot/internal/service/completion"
	"github.com/jobifycvut/jobify-bot/internal/service/dispatcher"
	"github.com/jobifycvut/jobify-bot/internal/service/extraction"
	"github.com/jobifycvut/jobify-bot/internal/service/session"
	"github.com/redis/go-redis/v9"
)

// Services 服务集合
type Services struct {
	SessionMgr *session.Manager
	Assembler  *assembler.Assembler
	Completion *completion.Client
	Extraction *extraction.Service
	Dispatcher *dispatcher.Dispatcher
	Sender     gateway.ReplySender

	Store  repository.ConversationStore
	Config *config.Config
}

// NewServices 创建所有服务
func NewServices(repo *repository.Repositories, cfg *config.Config, redisClient *redis.Client) (*Services, error) {
	sessionMgr := session.NewManager(repo.Conversation, redisClient, &session.Config{
		IdleTimeout:   cfg.Session.IdleThreshold(),
		MaxQueueDepth: cfg.Session.MaxQueueDepth,
	})

	asm := assembler.NewAssembler(&assembler.Config{
		TokenBudget:  cfg.Context.TokenBudget,
		DocCharLimit: cfg.Context.DocCharLimit,
		SystemPrompt: cfg.Context.SystemPrompt,
	})

	chatModel, err := newChatModel(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	completer := completion.NewClient(chatModel, &completion.Config{
		MaxAttempts:      cfg.Completion.MaxAttempts,
		AttemptTimeout:   time.Duration(cfg.Completion.AttemptTimeout) * time.Second,
		BackoffBase:      time.Duration(cfg.Completion.BackoffBase) * time.Millisecond,
		BackoffMax:       time.Duration(cfg.Completion.BackoffMax) * time.Millisecond,
		BreakerThreshold: cfg.Completion.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Completion.BreakerCooldown) * time.Second,
	})

	extractor := extraction.NewService()
	sender := newReplySender(cfg)

	disp := dispatcher.NewDispatcher(
		sessionMgr,
		repo.Conversation,
		asm,
		completer,
		extractor,
		sender,
		redisClient,
		&dispatcher.Config{
			Workers:           cfg.Pipeline.Workers,
			QueueSize:         cfg.Pipeline.QueueSize,
			Timeout:           time.Duration(cfg.Pipeline.Timeout) * time.Second,
			ExtractionTimeout: time.Duration(cfg.Pipeline.ExtractionTimeout) * time.Second,
		},
	)

	return &Services{
		SessionMgr: sessionMgr,
		Assembler:  asm,
		Completion: completer,
		Extraction: extractor,
		Dispatcher: disp,
		Sender:     sender,
		Store:      repo.Conversation,
		Config:     cfg,
	}, nil
}

// newChatModel 创建 ChatModel
func newChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	aiCfg := cfg.AI

	var apiKey, baseURL, modelName string

	switch aiCfg.Provider {
	case "openai":
		apiKey = aiCfg.OpenAI.APIKey
		baseURL = aiCfg.OpenAI.BaseURL
		modelName = aiCfg.OpenAI.Model
	case "deepseek":
		apiKey = aiCfg.DeepSeek.APIKey
		baseURL = aiCfg.DeepSeek.BaseURL
		modelName = aiCfg.DeepSeek.Model
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", aiCfg.Provider)
	}

	if apiKey == "" {
		return nil, fmt.Errorf("api_key is required for provider: %s", aiCfg.Provider)
	}

	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   modelName,
	})
}

// newReplySender 创建回复发送器
// 未配置 Webhook 时回复只随同步响应返回
func newReplySender(cfg *config.Config) gateway.ReplySender {
	if cfg.Gateway.ReplyWebhookURL == "" {
		log.Printf("Warning: reply webhook not configured, outbound replies disabled")
		return gateway.NopSender{}
	}
	return gateway.NewWebhookSender(cfg.Gateway.ReplyWebhookURL)
}
