package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ClubFM/cache"
	"ClubFM/config"
	"ClubFM/core/auth"
	"ClubFM/core/bus"
	"ClubFM/core/search"
	"ClubFM/core/vote"
	"ClubFM/logger"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	})

	auth.Init(cfg.JWTSecret)

	// Connect to Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer cache.CloseRedis()
	logger.Info("connected to Redis")

	// 组合根：总线、队列、控制器、ticker 都在这里构造并显式注入
	var eventBus bus.Bus
	switch cfg.BusBackend {
	case "redis":
		eventBus = bus.NewRedisBus(cache.RedisClient)
		logger.Info("using redis bus backend")
	default:
		eventBus = bus.NewLocalBus()
		logger.Info("using local bus backend")
	}
	defer eventBus.Close()

	queue := vote.NewQueueStore(cache.RedisClient, cfg.StateTTL(), cfg.QueueMaxLen)
	ctrl := vote.NewController(cache.RedisClient, eventBus, queue, cfg)
	ticker := vote.NewTicker(ctrl, cfg.TickInterval())

	apiHandler := NewAPIHandler(ctrl, ticker, search.NewClient(), cfg)

	router := NewRouter(apiHandler)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	// 先停 ticker（等进行中的 tick 跑完），再优雅关闭 HTTP
	ticker.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}
