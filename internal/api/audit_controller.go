package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/repository"
	"github.com/mautops/formflow-gin/internal/service"
)

// AuditController 操作审计查询
type AuditController struct {
	auditLogService service.AuditLogService
}

// NewAuditController 创建审计控制器
func NewAuditController(auditLogService service.AuditLogService) *AuditController {
	return &AuditController{auditLogService: auditLogService}
}

// List 分页查询操作审计,支持 user_id/resource_type/resource_id/result 过滤
func (ac *AuditController) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	page, pageSize := pagination(c)
	filter := repository.AuditLogFilter{
		UserID:       c.Query("user_id"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Result:       c.Query("result"),
		Page:         page,
		PageSize:     pageSize,
	}
	logs, total, err := ac.auditLogService.Query(c.Request.Context(), p, filter)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Paginated(c, logs, NewPaginationInfo(page, pageSize, total))
}

// pagination 读取 page/page_size 参数
func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
