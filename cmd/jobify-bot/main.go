package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobifycvut/jobify-bot/internal/config"
	"github.com/jobifycvut/jobify-bot/internal/database"
	"github.com/jobifycvut/jobify-bot/internal/handler"
	"github.com/jobifycvut/jobify-bot/internal/repository"
	"github.com/jobifycvut/jobify-bot/internal/router"
	"github.com/jobifycvut/jobify-bot/internal/service"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置 Gin 模式
	gin.SetMode(cfg.Server.Mode)

	// 初始化数据库
	db, err := database.New(cfg)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	log.Printf("Database connected: %s", cfg.Database.DBName)

	// 初始化 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// 初始化各层
	repos := repository.NewRepositories(db.DB)
	services, err := service.NewServices(repos, cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to init services: %v", err)
	}
	handlers := handler.NewHandlers(services)

	// 启动流水线工作池
	services.Dispatcher.Start()

	// 启动空闲会话回收
	expireCtx, stopExpire := context.WithCancel(context.Background())
	go runIdleExpiry(expireCtx, services, cfg)

	// 初始化路由
	r := router.SetupRouter(handlers, services)

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 启动服务器
	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopExpire()

	// 优雅关闭：先停收新请求，再排空在途流水线
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if err := services.Dispatcher.Shutdown(ctx); err != nil {
		log.Printf("Pipeline drain incomplete: %v", err)
	}

	log.Println("Server exited")
}

// runIdleExpiry 周期性归档空闲会话
func runIdleExpiry(ctx context.Context, services *service.Services, cfg *config.Config) {
	interval := time.Duration(cfg.Session.ScanInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := services.SessionMgr.ExpireIdle(scanCtx, time.Now())
			cancel()
			if err != nil {
				log.Printf("Warning: idle session scan failed: %v", err)
			} else if n > 0 {
				log.Printf("Archived %d idle sessions", n)
			}
		}
	}
}
