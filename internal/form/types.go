package form

import (
	"encoding/json"
	"time"
)

// Role 操作者角色
type Role string

const (
	RoleOperator   Role = "operator"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Valid 判断角色是否为已知角色
func (r Role) Valid() bool {
	switch r {
	case RoleOperator, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Principal 由外部认证组件提供的调用者身份
type Principal struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	Department string `json:"department"`
}

// Status 表单状态
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusReviewed    Status = "reviewed"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusDisapproved Status = "disapproved"
)

// AllStatuses 全部状态,按流转顺序排列
var AllStatuses = []Status{
	StatusDraft,
	StatusSubmitted,
	StatusReviewed,
	StatusApproved,
	StatusRejected,
	StatusDisapproved,
}

// Valid 判断状态是否合法
func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal 终态不再接受任何流转
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusDisapproved
}

// FileType 附件分类
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypePDF      FileType = "pdf"
	FileTypeDocument FileType = "document"
	FileTypeOther    FileType = "other"
)

// Attachment 附件描述符,BlobID 是唯一指向附件存储的字段
type Attachment struct {
	BlobID       string    `json:"blob_id"`
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	FileType     FileType  `json:"file_type"`
	Description  string    `json:"description,omitempty"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Comment 评论
type Comment struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry 审计条目,一次被接受的流转或草稿修改对应一条
type AuditEntry struct {
	Action      AuditAction `json:"action"`
	PerformedBy string      `json:"performed_by"`
	Timestamp   time.Time   `json:"timestamp"`
	Details     string      `json:"details,omitempty"`
}

// AuditAction 审计动作
type AuditAction string

const (
	AuditCreated     AuditAction = "created"
	AuditUpdated     AuditAction = "updated"
	AuditSubmitted   AuditAction = "submitted"
	AuditEscalated   AuditAction = "escalated"
	AuditApproved    AuditAction = "approved"
	AuditRejected    AuditAction = "rejected"
	AuditDisapproved AuditAction = "disapproved"
)

// Record 表单记录
type Record struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Department  string          `json:"department"`
	SubmittedBy string          `json:"submitted_by"`
	ReviewedBy  string          `json:"reviewed_by,omitempty"`
	ApprovedBy  string          `json:"approved_by,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Template    string          `json:"template,omitempty"`
	FormData    json.RawMessage `json:"form_data,omitempty"`
	Attachments []Attachment    `json:"attachments"`
	Comments    []Comment       `json:"comments"`
	AuditLog    []AuditEntry    `json:"audit_log"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	// Version 乐观并发版本号,仅由持久层维护
	Version int64 `json:"version"`
}

// Clone 深拷贝记录,流转总是在副本上计算
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.FormData != nil {
		c.FormData = append(json.RawMessage(nil), r.FormData...)
	}
	c.Attachments = append([]Attachment(nil), r.Attachments...)
	c.Comments = append([]Comment(nil), r.Comments...)
	c.AuditLog = append([]AuditEntry(nil), r.AuditLog...)
	return &c
}

// HasAudit 判断审计日志中是否存在指定动作
func (r *Record) HasAudit(action AuditAction) bool {
	for _, e := range r.AuditLog {
		if e.Action == action {
			return true
		}
	}
	return false
}

// BlobIDs 返回记录引用的全部附件 ID
func (r *Record) BlobIDs() []string {
	ids := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		ids = append(ids, a.BlobID)
	}
	return ids
}

// FindAttachment 按 BlobID 查找附件
func (r *Record) FindAttachment(blobID string) (Attachment, bool) {
	for _, a := range r.Attachments {
		if a.BlobID == blobID {
			return a, true
		}
	}
	return Attachment{}, false
}
