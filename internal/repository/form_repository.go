package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpdateFunc 在事务内基于最新记录计算新记录,返回错误时整个事务回滚
// 记录不存在时 current 为 nil
type UpdateFunc func(current *form.Record) (*form.Record, error)

// CheckFunc 删除前的检查,返回错误时不删除
type CheckFunc func(current *form.Record) error

// FormFilter 列表过滤条件
type FormFilter struct {
	Status   form.Status
	Page     int
	PageSize int
}

// FormRepository 表单仓储接口
type FormRepository interface {
	Load(ctx context.Context, id string) (*form.Record, error)
	AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*form.Record, error)
	Insert(ctx context.Context, rec *form.Record) (*form.Record, error)
	Delete(ctx context.Context, id string) error
	DeleteIf(ctx context.Context, id string, check CheckFunc) (*form.Record, error)
	QueryAll(ctx context.Context) ([]*form.Record, error)
	QueryVisible(ctx context.Context, p form.Principal, filter FormFilter) ([]*form.Record, int64, error)
	CountByStatus(ctx context.Context) (map[form.Status]int64, error)
}

// formRepository 表单仓储实现
type formRepository struct {
	db *gorm.DB
}

// NewFormRepository 创建表单仓储
func NewFormRepository(db *gorm.DB) FormRepository {
	return &formRepository{db: db}
}

// Load 读取单条记录
func (r *formRepository) Load(ctx context.Context, id string) (*form.Record, error) {
	rec, err := r.load(r.db.WithContext(ctx), id, false)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, form.NotFound("form %s not found", id)
	}
	return rec, nil
}

// load 读取记录及审计链,不存在时返回 (nil, nil)
func (r *formRepository) load(db *gorm.DB, id string, forUpdate bool) (*form.Record, error) {
	query := db
	if forUpdate && supportsRowLocking(db) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var m model.FormModel
	if err := query.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load form %s: %w", id, err)
	}

	var entries []model.FormAuditEntryModel
	if err := db.Where("form_id = ?", id).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load audit log of form %s: %w", id, err)
	}
	return m.ToRecord(entries)
}

// AtomicUpdate 读-改-写在同一事务内完成
// postgres 下对行加 FOR UPDATE 锁;所有数据库都以 version 做比较交换,版本不一致返回 Conflict
func (r *formRepository) AtomicUpdate(ctx context.Context, id string, fn UpdateFunc) (*form.Record, error) {
	var result *form.Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.load(tx, id, true)
		if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		if current == nil || next == nil {
			return form.NotFound("form %s not found", id)
		}
		if err := checkAppendOnly(current, next); err != nil {
			return err
		}

		m, err := model.NewFormModel(next)
		if err != nil {
			return err
		}
		res := tx.Model(&model.FormModel{}).
			Where("id = ? AND version = ?", id, current.Version).
			Updates(map[string]interface{}{
				"status":      m.Status,
				"reviewed_by": m.ReviewedBy,
				"approved_by": m.ApprovedBy,
				"title":       m.Title,
				"description": m.Description,
				"form_data":   m.FormData,
				"attachments": m.Attachments,
				"comments":    m.Comments,
				"updated_at":  m.UpdatedAt,
				"version":     current.Version + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update form %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return form.Conflict("form %s was modified concurrently", id)
		}

		added := next.AuditLog[len(current.AuditLog):]
		if len(added) > 0 {
			entries := model.NewAuditEntryModels(id, len(current.AuditLog), added)
			if err := tx.Create(&entries).Error; err != nil {
				return fmt.Errorf("failed to append audit log of form %s: %w", id, err)
			}
		}

		result = next.Clone()
		result.Version = current.Version + 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkAppendOnly 确保不可变字段未被改写,审计链只追加
func checkAppendOnly(current, next *form.Record) error {
	if next.ID != current.ID || next.SubmittedBy != current.SubmittedBy || next.Department != current.Department {
		return fmt.Errorf("form %s: immutable fields changed", current.ID)
	}
	if len(next.AuditLog) < len(current.AuditLog) || len(next.Comments) < len(current.Comments) {
		return fmt.Errorf("form %s: audit log and comments are append-only", current.ID)
	}
	if current.ReviewedBy != "" && next.ReviewedBy != current.ReviewedBy {
		return fmt.Errorf("form %s: reviewed_by already set", current.ID)
	}
	if current.ApprovedBy != "" && next.ApprovedBy != current.ApprovedBy {
		return fmt.Errorf("form %s: approved_by already set", current.ID)
	}
	return nil
}

// Insert 插入新记录,版本号从 1 开始
func (r *formRepository) Insert(ctx context.Context, rec *form.Record) (*form.Record, error) {
	stored := rec.Clone()
	stored.Version = 1

	m, err := model.NewFormModel(stored)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, form.Invalid("%s", err.Error())
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("failed to insert form %s: %w", rec.ID, err)
		}
		if len(stored.AuditLog) > 0 {
			entries := model.NewAuditEntryModels(rec.ID, 0, stored.AuditLog)
			if err := tx.Create(&entries).Error; err != nil {
				return fmt.Errorf("failed to insert audit log of form %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete 删除记录及其审计链
func (r *formRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteForm(tx, id, 0)
	})
}

// DeleteIf 在事务内加载记录并执行检查,检查通过后删除
func (r *formRepository) DeleteIf(ctx context.Context, id string, check CheckFunc) (*form.Record, error) {
	var deleted *form.Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.load(tx, id, true)
		if err != nil {
			return err
		}
		if err := check(current); err != nil {
			return err
		}
		if current == nil {
			return form.NotFound("form %s not found", id)
		}
		if err := deleteForm(tx, id, current.Version); err != nil {
			return err
		}
		deleted = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// deleteForm version 为 0 时不校验版本
func deleteForm(tx *gorm.DB, id string, version int64) error {
	query := tx.Where("id = ?", id)
	if version > 0 {
		query = query.Where("version = ?", version)
	}
	res := query.Delete(&model.FormModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete form %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if version > 0 {
			return form.Conflict("form %s was modified concurrently", id)
		}
		return form.NotFound("form %s not found", id)
	}
	if err := tx.Where("form_id = ?", id).Delete(&model.FormAuditEntryModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete audit log of form %s: %w", id, err)
	}
	return nil
}

// QueryAll 返回全部记录,按创建时间倒序
func (r *formRepository) QueryAll(ctx context.Context) ([]*form.Record, error) {
	var models []model.FormModel
	if err := r.db.WithContext(ctx).Order("created_at DESC, id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query forms: %w", err)
	}
	return r.withAuditLog(r.db.WithContext(ctx), models)
}

// QueryVisible 按可见性规则分页查询
func (r *formRepository) QueryVisible(ctx context.Context, p form.Principal, filter FormFilter) ([]*form.Record, int64, error) {
	db := r.db.WithContext(ctx)
	query := db.Model(&model.FormModel{}).Scopes(VisibleScope(p))
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count forms: %w", err)
	}

	query = query.Order("created_at DESC, id ASC")
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var models []model.FormModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query forms: %w", err)
	}
	records, err := r.withAuditLog(db, models)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// VisibleScope 可见性规则的 SQL 版本,与 form.Visible 保持一致
func VisibleScope(p form.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch p.Role {
		case form.RoleOperator:
			return db.Where("submitted_by = ?", p.ID)
		case form.RoleSupervisor:
			return db.Where("(department = ? AND status = ?) OR (reviewed_by <> '' AND reviewed_by = ?)",
				p.Department, string(form.StatusSubmitted), p.ID)
		case form.RoleAdmin:
			return db
		}
		return db.Where("1 = 0")
	}
}

// CountByStatus 按状态统计数量
func (r *formRepository) CountByStatus(ctx context.Context) (map[form.Status]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&model.FormModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count forms by status: %w", err)
	}
	counts := make(map[form.Status]int64, len(form.AllStatuses))
	for _, st := range form.AllStatuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[form.Status(row.Status)] = row.Count
	}
	return counts, nil
}

// withAuditLog 批量加载审计链
func (r *formRepository) withAuditLog(db *gorm.DB, models []model.FormModel) ([]*form.Record, error) {
	if len(models) == 0 {
		return []*form.Record{}, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}

	var entries []model.FormAuditEntryModel
	if err := db.Where("form_id IN ?", ids).Order("form_id ASC, seq ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load audit logs: %w", err)
	}
	byForm := make(map[string][]model.FormAuditEntryModel, len(models))
	for _, e := range entries {
		byForm[e.FormID] = append(byForm[e.FormID], e)
	}

	records := make([]*form.Record, 0, len(models))
	for i := range models {
		rec, err := models[i].ToRecord(byForm[models[i].ID])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func supportsRowLocking(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
