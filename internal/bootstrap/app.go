package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "planning-poker/internal/handler/http"
	wsHandler "planning-poker/internal/handler/websocket"
	"planning-poker/internal/hub"
	gormpersistence "planning-poker/internal/infra/persistence/gorm"
	"planning-poker/internal/infra/persistence/memory"
	"planning-poker/internal/infra/setup"
	redisstate "planning-poker/internal/infra/state/redis"
	"planning-poker/internal/middleware"
	"planning-poker/internal/repository"
	"planning-poker/internal/service"
	"planning-poker/internal/tasks"
	"planning-poker/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB // DB_DRIVER=memory 时为 nil
	Store       repository.Store
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server

	hubCancel context.CancelFunc
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s)", log.GetLevel().String())

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	var (
		db    *gorm.DB
		store repository.Store
	)
	if cfg.DBDriver == "memory" {
		log.Warn("Using in-memory store, state is lost on restart and not shared between instances")
		store = memory.NewStore()
	} else {
		db, err = setup.InitDB(setup.DBConfig{
			Driver:   cfg.DBDriver,
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Name:     cfg.DBName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		store = gormpersistence.NewGormStore(db)
	}

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Hub (跨实例转发走 Redis Pub/Sub)
	// 内存存储无法在实例间共享，此时不做跨实例转发
	var bus repository.RoomBus
	if cfg.DBDriver != "memory" {
		bus = redisstate.NewRedisRoomBus(redisClient, cfg.KeyPrefix)
	}
	hubInstance := hub.NewHub(bus)

	// 5. 初始化 Services
	opts := []service.Option{service.WithPresenceGrace(cfg.PresenceGrace)}
	authService, err := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	roomService := service.NewRoomService(store, hubInstance, opts...)
	sessionService := service.NewSessionService(store, hubInstance, opts...)
	presenceService := service.NewPresenceService(store, hubInstance, opts...)
	log.Info("Services initialized")

	// 6. 初始化 Handlers
	authHandler := httpHandler.NewAuthHandler(authService)
	roomHandler := httpHandler.NewRoomHandler(roomService, sessionService, presenceService)
	wsH := wsHandler.NewWebSocketHandler(hubInstance, authService, roomService, sessionService, presenceService, cfg.CORSAllowedOrigin)

	// 7. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, presenceService, cfg.PresenceSweepInterval, log)

	// 8. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/health", healthHandler(db, redisClient))

	registerAPIRoutes(router, apiRoutes{
		verifier:      authService,
		limiter:       middleware.RateLimit(redisstate.NewRedisRateCounter(redisClient, cfg.KeyPrefix), cfg.RateLimitMax, cfg.RateLimitWindow),
		guest:         authHandler.Guest,
		websocket:     wsH.HandleConnection,
		securedRoutes: roomHandler.RegisterRoutes,
	})
	log.Info("Router setup complete")

	// 9. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Store:       store,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Hub:         hubInstance,
		HttpServer:  httpServer,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// apiRoutes 汇总 /api/v1 下的路由与中间件
type apiRoutes struct {
	verifier      middleware.TokenVerifier
	limiter       gin.HandlerFunc
	guest         gin.HandlerFunc
	websocket     gin.HandlerFunc
	securedRoutes func(rg *gin.RouterGroup)
}

// registerAPIRoutes 注册 /api/v1 路由。公开路由按 IP 限流；
// 受保护路由先认证再限流，使计数落在用户身份上。
func registerAPIRoutes(router *gin.Engine, r apiRoutes) {
	api := router.Group("/api/v1")

	public := api.Group("", r.limiter)
	public.POST("/auth/guest", r.guest)
	public.GET("/ws", r.websocket)

	secured := api.Group("", middleware.Auth(r.verifier), r.limiter)
	r.securedRoutes(secured)
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.hubCancel = cancel
	go a.Hub.Run(ctx)
	a.Log.Info("Hub routine started")

	go func() {
		if err := a.AsynqServer.Start(); err != nil {
			a.Log.Errorf("Asynq worker server failed: %v", err)
		}
	}()
	a.Log.Info("Asynq worker server routine started")

	// 重启后立即补一次巡检，覆盖停机期间越过宽限窗口的参与者
	if task, err := tasks.NewPresenceSweepTask(a.Config.PresenceGrace + a.Config.PresenceSweepInterval); err == nil {
		if _, err := a.AsynqClient.Enqueue(task); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
			a.Log.WithError(err).Warn("Failed to enqueue startup presence sweep")
		}
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭所有 WebSocket 连接并停止跨实例订阅
	a.Hub.CloseAll()
	if a.hubCancel != nil {
		a.hubCancel()
	}

	// 3. 优雅关闭 Worker Server
	a.AsynqServer.Shutdown()

	if err := a.AsynqClient.Close(); err != nil {
		a.Log.Errorf("Error closing Asynq client: %v", err)
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Log.Errorf("Error closing Redis connection: %v", err)
	} else {
		a.Log.Info("Redis connection closed.")
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// healthHandler 检查数据库与 Redis 的连通性
func healthHandler(db *gorm.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"database": "ok", "redis": "ok"}
		healthy := true
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				status["database"] = err.Error()
				healthy = false
			}
		} else {
			status["database"] = "memory"
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// CORSMiddleware 设置跨域响应头
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志。
// 只记录路径不记录查询串 (WebSocket 令牌通过查询参数传递)。
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})

		switch {
		case errorMessage != "":
			entry.Error(errorMessage)
		case statusCode >= 500:
			entry.Error("Server error")
		case statusCode >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Request handled")
		}
	}
}
