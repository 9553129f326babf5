package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/model"
	"github.com/mautops/formflow-gin/internal/repository"
)

// 审计结果
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type requestInfoKey struct{}

// RequestInfo 请求级别的上下文信息
type RequestInfo struct {
	RequestID string
	IP        string
	UserAgent string
}

// WithRequestInfo 将请求信息附加到 context
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom 从 context 获取请求信息
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// AuditLogService 审计日志服务
type AuditLogService interface {
	RecordAction(ctx context.Context, p form.Principal, action string, resourceType string, resourceID string, cause error, details interface{}) error
	Query(ctx context.Context, p form.Principal, filter repository.AuditLogFilter) ([]*model.AuditLogModel, int64, error)
}

// auditLogService 审计日志服务实现
type auditLogService struct {
	auditRepo repository.AuditLogRepository
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(auditRepo repository.AuditLogRepository) AuditLogService {
	return &auditLogService{
		auditRepo: auditRepo,
	}
}

// RecordAction 记录操作审计日志,cause 不为空时记录错误类别
func (s *auditLogService) RecordAction(
	ctx context.Context,
	p form.Principal,
	action string,
	resourceType string,
	resourceID string,
	cause error,
	details interface{},
) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	info := RequestInfoFrom(ctx)
	auditLog := &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       p.ID,
		Role:         string(p.Role),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Result:       resultOf(cause),
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Details:      detailsJSON,
		CreatedAt:    time.Now().UTC(),
	}

	return s.auditRepo.Save(ctx, auditLog)
}

// Query 查询操作审计,仅管理员可用
func (s *auditLogService) Query(ctx context.Context, p form.Principal, filter repository.AuditLogFilter) ([]*model.AuditLogModel, int64, error) {
	if p.Role != form.RoleAdmin {
		return nil, 0, form.Forbidden("audit logs are restricted to admins")
	}
	return s.auditRepo.Query(ctx, filter)
}

func resultOf(err error) string {
	if err == nil {
		return ResultSuccess
	}
	if kind := form.KindOf(err); kind != "" {
		return string(kind)
	}
	return ResultError
}
