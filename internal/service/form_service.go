package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/formflow-gin/internal/blob"
	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/metrics"
	"github.com/mautops/formflow-gin/internal/repository"
	"github.com/sirupsen/logrus"
)

// 审计资源类型
const (
	ResourceForm       = "form"
	ResourceAttachment = "attachment"
)

// FormService 表单服务接口
type FormService interface {
	CreateDraft(ctx context.Context, p form.Principal, req *CreateDraftRequest) (*form.Record, error)
	UpdateDraft(ctx context.Context, p form.Principal, id string, req *UpdateDraftRequest) (*form.Record, error)
	DeleteDraft(ctx context.Context, p form.Principal, id string) error
	Submit(ctx context.Context, p form.Principal, id string) (*form.Record, error)
	SupervisorDecide(ctx context.Context, p form.Principal, id string, decision string, comment string) (*form.Record, error)
	AdminDecide(ctx context.Context, p form.Principal, id string, decision string, comment string) (*form.Record, error)
	AddComment(ctx context.Context, p form.Principal, id string, message string) (*form.Record, error)
	ListVisible(ctx context.Context, p form.Principal, filter repository.FormFilter) ([]*form.Record, int64, error)
	GetVisible(ctx context.Context, p form.Principal, id string) (*form.Record, error)
	OpenAttachment(ctx context.Context, p form.Principal, id string, blobID string) (form.Attachment, io.ReadCloser, error)
}

// Notifier 已接受流转的通知
type Notifier interface {
	NotifyTransition(rec *form.Record, action form.Action, actor string)
}

// Upload 待写入的附件
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	// FileType 调用方声明的分类,为空时由上传策略识别
	FileType    string
	Description string
	Open        func() (io.ReadCloser, error)
}

// CreateDraftRequest 创建草稿请求
type CreateDraftRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Template    string          `json:"template"`
	Department  string          `json:"department"` // 忽略,部门取自调用者
	FormData    json.RawMessage `json:"formData"`
	Attachments []Upload        `json:"-"`
}

// UpdateDraftRequest 修改草稿请求,nil 字段保持不变
type UpdateDraftRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	FormData    json.RawMessage `json:"formData"`
	Attachments []Upload        `json:"-"`
}

// formService 表单服务实现
type formService struct {
	repo        repository.FormRepository
	store       blob.Store
	policy      blob.Policy
	table       *form.Table
	auditLogSvc AuditLogService
	notifier    Notifier
	now         func() time.Time
}

// NewFormService 创建表单服务,auditLogSvc 和 notifier 可以为空
func NewFormService(
	repo repository.FormRepository,
	store blob.Store,
	policy blob.Policy,
	auditLogSvc AuditLogService,
	notifier Notifier,
) FormService {
	return &formService{
		repo:        repo,
		store:       store,
		policy:      policy,
		table:       form.DefaultTable(),
		auditLogSvc: auditLogSvc,
		notifier:    notifier,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateDraft 创建草稿,附件全部写入成功后才插入记录
func (s *formService) CreateDraft(ctx context.Context, p form.Principal, req *CreateDraftRequest) (rec *form.Record, err error) {
	defer func() { s.audit(ctx, p, "create", ResourceForm, recordID(rec), err, nil) }()

	now := s.now()
	basic := form.BasicFields{
		Title:       req.Title,
		Description: req.Description,
		Template:    req.Template,
		Department:  req.Department,
	}
	draft, err := form.NewDraft(uuid.New().String(), p, basic, req.FormData, nil, now)
	if err != nil {
		return nil, err
	}
	if err := s.checkUploads(req.Attachments); err != nil {
		return nil, err
	}

	attachments, err := s.storeUploads(ctx, p, req.Attachments, now)
	if err != nil {
		return nil, err
	}
	draft.Attachments = attachments

	rec, err = s.repo.Insert(ctx, draft)
	if err != nil {
		s.releaseBlobs(ctx, draft.ID, attachments)
		return nil, err
	}

	metrics.RecordFormCreated()
	logrus.WithFields(logrus.Fields{
		"form_id":     rec.ID,
		"actor":       p.ID,
		"department":  rec.Department,
		"attachments": len(attachments),
	}).Info("form draft created")
	return rec, nil
}

// UpdateDraft 修改草稿并追加附件
func (s *formService) UpdateDraft(ctx context.Context, p form.Principal, id string, req *UpdateDraftRequest) (rec *form.Record, err error) {
	defer func() { s.audit(ctx, p, "update", ResourceForm, id, err, nil) }()

	patch := form.Patch{Title: req.Title, Description: req.Description, FormData: req.FormData}

	// 写入附件之前先确认草稿可修改
	current, err := s.repo.Load(ctx, id)
	if err != nil && !errors.Is(err, form.ErrNotFound) {
		return nil, err
	}
	if err := form.CheckDraftOwner(current, p); err != nil {
		return nil, err
	}
	if patch.Empty() && len(req.Attachments) == 0 {
		return nil, form.Invalid("no changes provided")
	}
	now := s.now()
	if !patch.Empty() {
		if _, err := form.ApplyPatch(current, p, patch, nil, now); err != nil {
			return nil, err
		}
	}
	if err := s.checkUploads(req.Attachments); err != nil {
		return nil, err
	}

	attachments, err := s.storeUploads(ctx, p, req.Attachments, now)
	if err != nil {
		return nil, err
	}

	rec, err = s.repo.AtomicUpdate(ctx, id, func(current *form.Record) (*form.Record, error) {
		return form.ApplyPatch(current, p, patch, attachments, now)
	})
	if err != nil {
		s.releaseBlobs(ctx, id, attachments)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"form_id":     id,
		"actor":       p.ID,
		"attachments": len(attachments),
	}).Info("form draft updated")
	return rec, nil
}

// DeleteDraft 删除草稿
// 删除前逐个探测附件,存储不可用时返回 Conflict 并保留记录,不释放任何附件;
// 记录删除后再释放附件,释放失败只记录告警
func (s *formService) DeleteDraft(ctx context.Context, p form.Principal, id string) (err error) {
	defer func() { s.audit(ctx, p, "delete", ResourceForm, id, err, nil) }()

	deleted, err := s.repo.DeleteIf(ctx, id, func(current *form.Record) error {
		if err := form.CheckDraftOwner(current, p); err != nil {
			return err
		}
		for _, a := range current.Attachments {
			if _, err := s.store.Head(ctx, a.BlobID); err != nil && !errors.Is(err, blob.ErrNotFound) {
				logrus.WithError(err).WithFields(logrus.Fields{
					"form_id": id,
					"blob_id": a.BlobID,
				}).Warn("attachment storage unavailable")
				return form.Conflict("attachment %s cannot be released", a.BlobID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	released := s.releaseBlobs(ctx, deleted.ID, deleted.Attachments)
	logrus.WithFields(logrus.Fields{
		"form_id":  deleted.ID,
		"actor":    p.ID,
		"released": released,
	}).Info("form draft deleted")
	return nil
}

// Submit 提交草稿
func (s *formService) Submit(ctx context.Context, p form.Principal, id string) (*form.Record, error) {
	return s.transition(ctx, p, id, form.ActionSubmit, "")
}

// SupervisorDecide 主管审核: approve, escalate, disapprove
func (s *formService) SupervisorDecide(ctx context.Context, p form.Principal, id string, decision string, comment string) (*form.Record, error) {
	action, err := form.SupervisorAction(decision)
	if err != nil {
		s.audit(ctx, p, "review", ResourceForm, id, err, map[string]string{"decision": decision})
		return nil, err
	}
	return s.transition(ctx, p, id, action, comment)
}

// AdminDecide 管理员决定: approve, reject, disapprove
func (s *formService) AdminDecide(ctx context.Context, p form.Principal, id string, decision string, comment string) (*form.Record, error) {
	action, err := form.AdminAction(decision)
	if err != nil {
		s.audit(ctx, p, "decide", ResourceForm, id, err, map[string]string{"decision": decision})
		return nil, err
	}
	return s.transition(ctx, p, id, action, comment)
}

// transition 在原子更新中执行一次生命周期流转
func (s *formService) transition(ctx context.Context, p form.Principal, id string, action form.Action, comment string) (*form.Record, error) {
	var tr form.Transition
	rec, err := s.repo.AtomicUpdate(ctx, id, func(current *form.Record) (*form.Record, error) {
		next, t, err := s.table.Decide(current, p, action, comment, s.now())
		tr = t
		return next, err
	})
	metrics.RecordTransition(string(action), err == nil)
	s.audit(ctx, p, string(action), ResourceForm, id, err, map[string]string{"comment": comment})

	fields := logrus.Fields{"form_id": id, "actor": p.ID, "action": action}
	if err != nil {
		logrus.WithFields(fields).WithError(err).Debug("form transition rejected")
		return nil, err
	}

	logrus.WithFields(fields).WithField("status", tr.To).Info("form transition accepted")
	if s.notifier != nil {
		s.notifier.NotifyTransition(rec, action, p.ID)
	}
	return rec, nil
}

// AddComment 追加评论,不改变状态
func (s *formService) AddComment(ctx context.Context, p form.Principal, id string, message string) (rec *form.Record, err error) {
	defer func() { s.audit(ctx, p, "comment", ResourceForm, id, err, nil) }()

	return s.repo.AtomicUpdate(ctx, id, func(current *form.Record) (*form.Record, error) {
		return form.AppendComment(current, p, message, s.now())
	})
}

// ListVisible 列出调用者可见的表单
func (s *formService) ListVisible(ctx context.Context, p form.Principal, filter repository.FormFilter) ([]*form.Record, int64, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, form.Invalid("unknown status %q", filter.Status)
	}
	return s.repo.QueryVisible(ctx, p, filter)
}

// GetVisible 读取单个表单,不可见时返回 NotFound
func (s *formService) GetVisible(ctx context.Context, p form.Principal, id string) (*form.Record, error) {
	rec, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !form.Visible(p, rec) {
		return nil, form.NotFound("form %s not found", id)
	}
	return rec, nil
}

// OpenAttachment 打开可见表单的附件,调用方负责关闭返回的流
func (s *formService) OpenAttachment(ctx context.Context, p form.Principal, id string, blobID string) (form.Attachment, io.ReadCloser, error) {
	rec, err := s.GetVisible(ctx, p, id)
	if err != nil {
		return form.Attachment{}, nil, err
	}
	att, ok := rec.FindAttachment(blobID)
	if !ok {
		return form.Attachment{}, nil, form.NotFound("attachment %s not found", blobID)
	}

	_, body, err := s.store.Get(ctx, blobID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return form.Attachment{}, nil, form.NotFound("attachment %s not found", blobID)
		}
		return form.Attachment{}, nil, fmt.Errorf("failed to open attachment %s: %w", blobID, err)
	}
	s.audit(ctx, p, "download", ResourceAttachment, blobID, nil, map[string]string{"form_id": id})
	return att, body, nil
}

// checkUploads 在写入任何字节之前执行上传策略
func (s *formService) checkUploads(uploads []Upload) error {
	if len(uploads) == 0 {
		return nil
	}
	if err := s.policy.CheckCount(len(uploads)); err != nil {
		return err
	}
	for _, u := range uploads {
		if err := s.policy.Check(u.Name, u.ContentType, u.Size); err != nil {
			return err
		}
	}
	return nil
}

// storeUploads 依次写入附件,任一失败时释放本次已写入的附件
func (s *formService) storeUploads(ctx context.Context, p form.Principal, uploads []Upload, now time.Time) ([]form.Attachment, error) {
	attachments := make([]form.Attachment, 0, len(uploads))
	for _, u := range uploads {
		att, err := s.storeUpload(ctx, p, u, now)
		if err != nil {
			s.releaseBlobs(ctx, "", attachments)
			return nil, err
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

func (s *formService) storeUpload(ctx context.Context, p form.Principal, u Upload, now time.Time) (form.Attachment, error) {
	if u.Open == nil {
		return form.Attachment{}, form.Invalid("file %s has no content", u.Name)
	}
	r, err := u.Open()
	if err != nil {
		return form.Attachment{}, fmt.Errorf("failed to open upload %s: %w", u.Name, err)
	}
	defer r.Close()

	// 声明的大小不可信,多读一个字节用于判断是否超限
	limit := s.policy.MaxFileSize()
	var body io.Reader = r
	if limit > 0 {
		body = io.LimitReader(r, limit+1)
	}
	key := blob.NewKey(u.Name)
	info, err := s.store.Put(ctx, key, body, blob.PutOptions{
		ContentType: u.ContentType,
		Metadata:    map[string]string{"original-name": u.Name, "uploaded-by": p.ID},
	})
	if err != nil {
		return form.Attachment{}, fmt.Errorf("failed to store attachment %s: %w", u.Name, err)
	}
	if limit > 0 && info.Size > limit {
		if _, derr := s.store.Delete(ctx, key); derr != nil {
			logrus.WithError(derr).WithField("blob_id", key).Warn("failed to release oversized attachment")
		}
		return form.Attachment{}, form.Invalid("file %s exceeds the maximum size of %d bytes", u.Name, limit)
	}
	metrics.RecordAttachmentBytes(info.Size)

	fileType := form.FileType(strings.ToLower(strings.TrimSpace(u.FileType)))
	switch fileType {
	case form.FileTypeImage, form.FileTypePDF, form.FileTypeDocument, form.FileTypeOther:
	default:
		fileType = s.policy.DetectFileType(u.Name, u.ContentType)
	}

	return form.Attachment{
		BlobID:       key,
		OriginalName: u.Name,
		MimeType:     u.ContentType,
		Size:         info.Size,
		FileType:     fileType,
		Description:  strings.TrimSpace(u.Description),
		UploadedBy:   p.ID,
		UploadedAt:   now,
	}, nil
}

// releaseBlobs 尽力释放附件,失败只记录警告
// releaseBlobs 尽力释放附件,返回成功释放的数量
func (s *formService) releaseBlobs(ctx context.Context, formID string, attachments []form.Attachment) int {
	released := 0
	for _, a := range attachments {
		if _, err := s.store.Delete(context.WithoutCancel(ctx), a.BlobID); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"form_id": formID,
				"blob_id": a.BlobID,
			}).Warn("failed to release attachment")
			continue
		}
		released++
	}
	return released
}

func (s *formService) audit(ctx context.Context, p form.Principal, action, resourceType, resourceID string, cause error, details interface{}) {
	if s.auditLogSvc == nil || p.ID == "" || resourceID == "" {
		return
	}
	if err := s.auditLogSvc.RecordAction(ctx, p, action, resourceType, resourceID, cause, details); err != nil {
		logrus.WithError(err).WithField("action", action).Warn("failed to record audit log")
	}
}

func recordID(rec *form.Record) string {
	if rec == nil {
		return ""
	}
	return rec.ID
}
