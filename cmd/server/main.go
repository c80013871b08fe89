package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gameshop/internal/config"
	"gameshop/internal/handler"
	"gameshop/internal/infrastructure/cache"
	"gameshop/internal/infrastructure/database"
	"gameshop/internal/infrastructure/lock"
	"gameshop/internal/infrastructure/mq"
	"gameshop/internal/job"
	"gameshop/internal/model"
	"gameshop/internal/pkg/logger"
	"gameshop/internal/server"
	"gameshop/internal/service"
	"gameshop/internal/session"

	gormlogger "gorm.io/gorm/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gameshop: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if _, err := logger.Init(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化数据库
	dbLogLevel := gormlogger.Silent
	if cfg.Server.LogLevel == "debug" {
		dbLogLevel = gormlogger.Info
	}
	db, err := database.Open(&cfg.Database, dbLogLevel)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warnf(ctx, "关闭数据库失败: %v", err)
		}
	}()
	logger.Infof(ctx, "数据库已就绪, driver=%s", cfg.Database.Driver)

	// 初始化 Redis（可选，用于登录锁）
	redisClient, err := cache.InitRedis(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Infof(ctx, "Redis 已连接: %s", cfg.Redis.Addr())
	}
	loginLock := lock.NewLoginLocker(redisClient, cfg.Redis.LockTTL())

	// 初始化 Kafka（可选，用于经济事件），未启用时不发送事件
	var (
		events      service.EventPublisher
		eventSender *job.EventSender
		producer    *mq.Producer
	)
	if cfg.Kafka.Enabled {
		producer, err = mq.InitKafka(&cfg.Kafka)
		if err != nil {
			return err
		}
		eventSender = job.NewEventSender(producer, cfg.Kafka.Topic.EconomyEvents,
			cfg.Business.EventBuffer, cfg.Business.MaxRetryCount)
		go eventSender.Start(ctx)
		events = eventSender
		logger.Infof(ctx, "Kafka 已连接, topic=%s", cfg.Kafka.Topic.EconomyEvents)
	}

	economy, err := service.NewEconomyService(db, session.NewRegistry(), model.DefaultCatalog(),
		&cfg.Business, loginLock, events)
	if err != nil {
		return err
	}

	// 游戏 TCP 服务，端口被占用直接退出
	gameServer := server.New(&cfg.Server, economy)
	if err := gameServer.Listen(); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- gameServer.Serve(ctx)
	}()

	// 管理接口
	var adminServer *http.Server
	if cfg.Server.AdminPort > 0 {
		adminServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort),
			Handler:           handler.SetupRouter(economy, gameServer),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Infof(ctx, "管理接口启动，监听地址: %s", adminServer.Addr)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf(ctx, "管理接口异常退出: %v", err)
			}
		}()
	}

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infof(ctx, "收到信号 %s，正在关闭服务...", sig)
	case err := <-serveErr:
		if err != nil {
			logger.Errorf(ctx, "游戏服务异常退出: %v", err)
		}
	}

	// 先停止接受新请求，再关闭后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf(ctx, "游戏服务关闭异常: %v", err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf(ctx, "管理接口关闭异常: %v", err)
		}
	}

	cancel()
	if eventSender != nil {
		select {
		case <-eventSender.Done():
		case <-shutdownCtx.Done():
			logger.Warnf(ctx, "事件发送未能在超时前完成")
		}
	}
	if err := producer.Close(); err != nil {
		logger.Warnf(ctx, "关闭 Kafka 生产者失败: %v", err)
	}

	logger.Infof(ctx, "服务已关闭")
	return nil
}
