package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/factorypulse/pulse/internal/config"
	"github.com/factorypulse/pulse/internal/middleware"
	"github.com/factorypulse/pulse/internal/rfq/cache"
	"github.com/factorypulse/pulse/internal/rfq/entity"
	"github.com/factorypulse/pulse/internal/rfq/handler"
	"github.com/factorypulse/pulse/internal/rfq/realtime"
	"github.com/factorypulse/pulse/internal/rfq/repository"
	"github.com/factorypulse/pulse/internal/rfq/service"
	"github.com/factorypulse/pulse/internal/rfq/sse"
	"github.com/factorypulse/pulse/internal/rfq/state"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting factory-pulse service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// AutoMigrate
	if err := db.AutoMigrate(
		&entity.Project{},
		&entity.WorkflowStage{},
		&entity.StageTransition{},
		&entity.ProjectDocument{},
	); err != nil {
		zapLogger.Warn("AutoMigrate warning", zap.Error(err))
	}

	// 补充约束（AutoMigrate不处理CHECK约束）
	migrationSQL := []string{
		"ALTER TABLE projects DROP CONSTRAINT IF EXISTS chk_projects_status",
		"ALTER TABLE projects ADD CONSTRAINT chk_projects_status CHECK (status IN ('active', 'on_hold', 'delayed', 'cancelled', 'completed'))",
		"ALTER TABLE projects DROP CONSTRAINT IF EXISTS chk_projects_priority_level",
		"ALTER TABLE projects ADD CONSTRAINT chk_projects_priority_level CHECK (priority_level IN ('low', 'medium', 'high', 'urgent'))",
		"CREATE INDEX IF NOT EXISTS idx_projects_org_status ON projects(customer_organization_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_projects_current_stage ON projects(current_stage_id)",
		"CREATE INDEX IF NOT EXISTS idx_stage_transitions_project ON stage_transitions(project_id, entered_at)",
		"CREATE INDEX IF NOT EXISTS idx_project_documents_project ON project_documents(project_id, requirement_key)",
	}
	for _, sql := range migrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			zapLogger.Warn("Migration SQL warning (may already exist)", zap.String("sql", sql), zap.Error(err))
		}
	}
	zapLogger.Info("Database migration completed")

	// Seed: 默认工作流阶段
	seedStages(db, zapLogger)

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化依赖
	repos := repository.NewRepositories(db)
	queryCache := cache.NewQueryCache(cfg.Cache.TTL, cfg.Cache.SweepInterval)
	projectStore := state.NewProjectStore()
	publisher := realtime.NewPublisher(rdb, cfg.Realtime.ChannelPrefix, zapLogger)
	services := service.NewServices(repos, rdb, cfg, queryCache, projectStore, publisher, zapLogger)

	// SSE Hub + 实时变更通道
	hub := sse.NewHub(zapLogger)
	listener := realtime.NewListener(rdb, realtime.ListenerConfig{
		ChannelPrefix: cfg.Realtime.ChannelPrefix,
		BufferSize:    cfg.Realtime.BufferSize,
		ReconnectBase: cfg.Realtime.ReconnectBase,
		ReconnectMax:  cfg.Realtime.ReconnectMax,
		MaxReconnects: cfg.Realtime.MaxReconnects,
	}, zapLogger)
	listener.OnDown = func() {
		projectStore.SetStale(true)
	}
	listener.OnUp = func() {
		// 重连后本地缓存可能已落后，全部作废
		queryCache.Clear()
		projectStore.SetStale(false)
	}
	reconciler := realtime.NewReconciler(projectStore, queryCache, hub, zapLogger)

	listenerCtx, stopListener := context.WithCancel(context.Background())
	go listener.Run(listenerCtx)
	go reconciler.Run(listener.Events())

	// 审计重试定时冲刷
	auditCron := cron.New()
	auditCron.AddFunc("@every 1m", func() {
		services.History.FlushRetries(context.Background())
	})
	auditCron.Start()

	handlers := handler.NewHandlers(services, hub)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, handlers, services, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	stopListener()
	auditCron.Stop()
	queryCache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder

	if cfg.Format == "json" {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var sink zapcore.WriteSyncer
	if cfg.Output == "file" && cfg.FilePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	} else {
		sink = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// seedStages 空表时写入默认RFQ工作流
func seedStages(db *gorm.DB, zapLogger *zap.Logger) {
	var count int64
	db.Model(&entity.WorkflowStage{}).Count(&count)
	if count > 0 {
		return
	}

	stageSeeds := []struct {
		ID, Name, Slug, Color string
		Order, Days           int
		Criteria              entity.CriteriaList
	}{
		{"stg-inquiry", "询价接收", "inquiry_received", "#3b82f6", 1, 2, entity.CriteriaList{
			{Key: "rfq_document", Label: "RFQ文档已上传", Required: true},
		}},
		{"stg-review", "技术评审", "technical_review", "#f59e0b", 2, 3, entity.CriteriaList{
			{Key: "drawing_package", Label: "图纸包完整", Required: true},
			{Key: "dfm_report", Label: "DFM报告", Required: false},
		}},
		{"stg-costing", "成本核算", "supplier_rfq_sent", "#a855f7", 3, 5, entity.CriteriaList{
			{Key: "supplier_quotes", Label: "供应商报价齐全", Required: true},
		}},
		{"stg-quoted", "已报价", "quoted", "#10b981", 4, 3, nil},
		{"stg-confirmed", "订单确认", "order_confirmed", "#8b5cf6", 5, 2, nil},
		{"stg-production", "生产中", "in_production", "#ef4444", 6, 30, nil},
		{"stg-shipped", "已发货", "shipped_closed", "#6b7280", 7, 1, nil},
	}

	for _, s := range stageSeeds {
		stage := entity.WorkflowStage{
			ID:                    s.ID,
			Name:                  s.Name,
			Slug:                  s.Slug,
			StageOrder:            s.Order,
			IsActive:              true,
			EstimatedDurationDays: s.Days,
			Color:                 s.Color,
			ExitCriteria:          s.Criteria,
		}
		if err := db.Create(&stage).Error; err != nil {
			zapLogger.Warn("Stage seed warning", zap.String("slug", s.Slug), zap.Error(err))
		}
	}
	zapLogger.Info("Seeded default workflow stages", zap.Int("count", len(stageSeeds)))
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, svc *service.Services, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 认证 (无需登录)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refresh", h.Auth.Refresh)
		}

		// SSE 实时推送（需要认证，支持 query param token）
		sseGroup := v1.Group("/events")
		sseGroup.Use(middleware.JWTAuth(cfg.JWT.Secret, svc.Auth))
		{
			sseGroup.GET("", h.SSE.Stream)
		}

		// 需要认证的接口
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret, svc.Auth))
		{
			authorized.POST("/auth/logout", h.Auth.Logout)

			// 项目管理
			projects := authorized.Group("/projects")
			{
				projects.GET("", h.Project.ListProjects)
				projects.POST("", h.Project.CreateProject)
				projects.GET("/:id", h.Project.GetProject)
				projects.PUT("/:id", h.Project.UpdateProject)
				projects.DELETE("/:id", h.Project.DeleteProject)
				projects.PUT("/:id/stage", h.Project.UpdateProjectStage)
				projects.PUT("/:id/status", h.Project.UpdateProjectStatus)
				projects.POST("/:id/validate-transition", h.Workflow.ValidateTransition)
				projects.GET("/:id/progress", h.Workflow.GetStageProgress)
				projects.GET("/:id/history", h.History.GetProjectHistory)
				projects.GET("/:id/documents", h.Document.List)
				projects.POST("/:id/documents", h.Document.Upload)
			}

			// 工作流阶段目录
			authorized.GET("/stages", h.Stage.ListStages)

			// 流转统计
			history := authorized.Group("/history")
			{
				history.GET("/stats", h.History.GetStats)
				history.GET("/stats/export", h.History.ExportStats)
			}
		}
	}
}
