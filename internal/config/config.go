package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AI         AIConfig
	Session    SessionConfig
	Context    ContextConfig
	Completion CompletionConfig
	Pipeline   PipelineConfig
	Gateway    GatewayConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AIConfig 补全服务配置
type AIConfig struct {
	Provider string
	OpenAI   OpenAIConfig
	DeepSeek DeepSeekConfig
}

// OpenAIConfig OpenAI配置
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// DeepSeekConfig DeepSeek配置
type DeepSeekConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// SessionConfig 会话配置
type SessionConfig struct {
	IdleTimeout   int // 空闲归档阈值（秒）
	ScanInterval  int // 空闲扫描周期（秒）
	MaxQueueDepth int // 单会话最大排队数
}

// ContextConfig 上下文组装配置
type ContextConfig struct {
	TokenBudget  int    // 上下文 Token 预算
	DocCharLimit int    // 单文档字符上限
	SystemPrompt string // 系统提示词
}

// CompletionConfig 补全调用配置
type CompletionConfig struct {
	MaxAttempts      int // 最大尝试次数
	AttemptTimeout   int // 单次尝试超时（秒）
	BackoffBase      int // 退避基数（毫秒）
	BackoffMax       int // 退避上限（毫秒）
	BreakerThreshold int // 熔断连续失败阈值
	BreakerCooldown  int // 熔断冷却时间（秒）
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	Workers           int // 工作协程数
	QueueSize         int // 事件队列容量
	Timeout           int // 整体超时（秒）
	ExtractionTimeout int // 附件提取超时（秒）
}

// GatewayConfig 网关适配器配置
type GatewayConfig struct {
	ReplyWebhookURL string // 出站回复 Webhook 地址
	AuthSecret      string // 入站事件认证密钥
}

var globalConfig *Config

// Load 加载配置
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量
	v.SetEnvPrefix("JOBIFY_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IdleThreshold 空闲归档阈值
func (c *SessionConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "jobify-bot")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.debug", true)

	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "jobify_bot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// AI
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.openai.baseUrl", "https://api.openai.com/v1")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.timeout", 30)
	v.SetDefault("ai.deepseek.baseUrl", "https://api.deepseek.com/v1")
	v.SetDefault("ai.deepseek.model", "deepseek-chat")
	v.SetDefault("ai.deepseek.timeout", 30)

	// Session
	v.SetDefault("session.idleTimeout", 1800)
	v.SetDefault("session.scanInterval", 90)
	v.SetDefault("session.maxQueueDepth", 8)

	// Context
	v.SetDefault("context.tokenBudget", 4000)
	v.SetDefault("context.docCharLimit", 6000)
	v.SetDefault("context.systemPrompt",
		"You are an assistant that helps students find internships, thesis topics and job opportunities. "+
			"Answer concisely and in a friendly tone, grounded in the conversation and any attached documents.")

	// Completion
	v.SetDefault("completion.maxAttempts", 3)
	v.SetDefault("completion.attemptTimeout", 30)
	v.SetDefault("completion.backoffBase", 500)
	v.SetDefault("completion.backoffMax", 8000)
	v.SetDefault("completion.breakerThreshold", 5)
	v.SetDefault("completion.breakerCooldown", 30)

	// Pipeline
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.queueSize", 64)
	v.SetDefault("pipeline.timeout", 120)
	v.SetDefault("pipeline.extractionTimeout", 15)

	// Gateway
	v.SetDefault("gateway.replyWebhookUrl", "")
	v.SetDefault("gateway.authSecret", "")
}
