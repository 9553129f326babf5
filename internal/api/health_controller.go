package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/blob"
	"gorm.io/gorm"
)

// healthProbeKey 探测用的 key,不存在即说明存储可达
const healthProbeKey = blob.KeyPrefix + ".health"

// HealthController 健康检查控制器
type HealthController struct {
	db    *gorm.DB
	store blob.Store
}

// NewHealthController 创建健康检查控制器
func NewHealthController(db *gorm.DB, store blob.Store) *HealthController {
	return &HealthController{
		db:    db,
		store: store,
	}
}

// Check 健康检查
func (hc *HealthController) Check(c *gin.Context) {
	status := "healthy"
	checks := make(map[string]string)

	// 检查数据库连接
	if hc.db != nil {
		if err := hc.checkDatabase(c.Request.Context()); err != nil {
			status = "unhealthy"
			checks["database"] = "unhealthy: " + err.Error()
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
	}

	// 检查附件存储
	if hc.store != nil {
		if err := hc.checkStorage(c.Request.Context()); err != nil {
			status = "unhealthy"
			checks["storage"] = "unhealthy: " + err.Error()
		} else {
			checks["storage"] = "healthy"
		}
	} else {
		checks["storage"] = "not configured"
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"checks":    checks,
	})
}

// checkDatabase 检查数据库连接
func (hc *HealthController) checkDatabase(ctx context.Context) error {
	sqlDB, err := hc.db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// checkStorage 检查附件存储
func (hc *HealthController) checkStorage(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := hc.store.Head(ctx, healthProbeKey)
	if err == nil || errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	return err
}
