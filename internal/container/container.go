package container

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/api"
	"github.com/mautops/formflow-gin/internal/auth"
	"github.com/mautops/formflow-gin/internal/blob"
	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/database"
	"github.com/mautops/formflow-gin/internal/metrics"
	"github.com/mautops/formflow-gin/internal/repository"
	"github.com/mautops/formflow-gin/internal/service"
	"github.com/mautops/formflow-gin/internal/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// metricsInterval 状态分布指标的刷新间隔
const metricsInterval = 30 * time.Second

// Container 依赖注入容器
// 管理所有应用依赖,包括数据库、附件存储、服务、通知中心等
type Container struct {
	cfg         *config.Config
	db          *gorm.DB
	store       blob.Store
	policy      *blob.RulePolicy
	validator   *auth.TokenValidator
	hub         *websocket.Hub
	formSvc     service.FormService
	templateSvc service.TemplateService
	auditLogSvc service.AuditLogService
	collector   *metrics.Collector
	watcher     *config.ConfigWatcher
	cancel      context.CancelFunc
}

// NewContainer 创建依赖注入容器
// configPath 非空时监听配置文件,上传策略随之热更新
func NewContainer(ctx context.Context, cfg *config.Config, configPath string) (*Container, error) {
	// 1. 初始化数据库（带重试机制）
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// 执行数据库迁移
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 2. 初始化附件存储
	store, err := blob.Open(ctx, cfg.Storage)
	if err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	policy := blob.NewRulePolicy(blob.RulesFromConfig(cfg.Upload))

	// 3. 初始化服务
	formRepo := repository.NewFormRepository(db)
	hub := websocket.NewHub()
	auditLogSvc := service.NewAuditLogService(repository.NewAuditLogRepository(db))

	c := &Container{
		cfg:         cfg,
		db:          db,
		store:       store,
		policy:      policy,
		validator:   auth.NewTokenValidator(cfg.Auth),
		hub:         hub,
		formSvc:     service.NewFormService(formRepo, store, policy, auditLogSvc, hub),
		templateSvc: service.NewTemplateService(repository.NewTemplateRepository(db)),
		auditLogSvc: auditLogSvc,
		collector:   metrics.NewCollector(db, formRepo, metricsInterval),
	}

	// 4. 配置热更新
	if configPath != "" {
		c.watcher = config.NewConfigWatcher(cfg, configPath)
		c.watcher.OnConfigChange(func(next *config.Config) {
			policy.Update(blob.RulesFromConfig(next.Upload))
			logrus.WithFields(logrus.Fields{
				"max_file_size": next.Upload.MaxFileSize,
				"max_files":     next.Upload.MaxFiles,
			}).Info("upload policy reloaded")
		})
	}

	return c, nil
}

// Start 启动后台组件
func (c *Container) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.hub.Run(ctx)
	c.collector.Start()

	if c.watcher != nil {
		if err := c.watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
	}
	return nil
}

// Router 构建 HTTP 路由
func (c *Container) Router() *gin.Engine {
	return api.SetupRoutes(api.RouterConfig{
		DB:              c.db,
		BlobStore:       c.store,
		Hub:             c.hub,
		Authenticator:   c.validator,
		FormService:     c.formSvc,
		TemplateService: c.templateSvc,
		AuditLogService: c.auditLogSvc,
		CORS:            c.cfg.CORS,
		RateLimit:       c.cfg.RateLimit,
		Production:      config.IsProduction(c.cfg),
	})
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// BlobStore 获取附件存储
func (c *Container) BlobStore() blob.Store {
	return c.store
}

// FormService 获取表单服务
func (c *Container) FormService() service.FormService {
	return c.formSvc
}

// Hub 获取通知中心
func (c *Container) Hub() *websocket.Hub {
	return c.hub
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.watcher != nil {
		c.watcher.Stop()
	}
	if c.cancel != nil {
		// 收集器只在 Start 之后运行
		c.collector.Stop()
		c.cancel()
	}
	return database.Close(c.db)
}
