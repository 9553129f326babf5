package form

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// DefaultTitle 标题缺省时的兜底标题
const DefaultTitle = "Form Submission"

// BasicFields 创建草稿的基础字段
// Department 字段会被忽略,部门总是取自调用者
type BasicFields struct {
	Title       string
	Description string
	Template    string
	Department  string
}

// Patch 草稿修改,nil 表示不修改
type Patch struct {
	Title       *string
	Description *string
	FormData    json.RawMessage
}

// Empty 判断补丁是否为空
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && len(p.FormData) == 0
}

// NewDraft 构造新的草稿记录
func NewDraft(id string, p Principal, basic BasicFields, formData json.RawMessage, attachments []Attachment, now time.Time) (*Record, error) {
	if p.Role != RoleOperator {
		return nil, Forbidden("only operators may create forms")
	}
	if strings.TrimSpace(p.ID) == "" {
		return nil, Invalid("principal id is required")
	}
	data, err := normalizeFormData(formData)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(basic.Title)
	if title == "" {
		title = generatedTitle(basic.Template)
	}

	rec := &Record{
		ID:          id,
		Status:      StatusDraft,
		Department:  p.Department,
		SubmittedBy: p.ID,
		Title:       title,
		Description: strings.TrimSpace(basic.Description),
		Template:    strings.TrimSpace(basic.Template),
		FormData:    data,
		Attachments: append([]Attachment(nil), attachments...),
		Comments:    []Comment{},
		AuditLog: []AuditEntry{{
			Action:      AuditCreated,
			PerformedBy: p.ID,
			Timestamp:   now,
			Details:     "Form created as draft",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return rec, nil
}

func generatedTitle(template string) string {
	template = strings.TrimSpace(template)
	if template == "" {
		return DefaultTitle
	}
	return template + " submission"
}

// CheckDraftOwner 校验草稿的所有者与状态
// 不存在、非本人或已提交统一返回 NotFound;只有调用者能看到该草稿时才返回 Forbidden
func CheckDraftOwner(rec *Record, p Principal) error {
	if rec == nil {
		return NotFound("draft form not found")
	}
	if p.Role == RoleOperator && rec.SubmittedBy == p.ID && rec.Status == StatusDraft {
		return nil
	}
	if p.Role != RoleOperator && rec.Status == StatusDraft && Visible(p, rec) {
		return Forbidden("only the owning operator may modify drafts")
	}
	return NotFound("draft form not found")
}

// ApplyPatch 在草稿副本上应用修改,附件只追加
func ApplyPatch(rec *Record, p Principal, patch Patch, attachments []Attachment, now time.Time) (*Record, error) {
	if err := CheckDraftOwner(rec, p); err != nil {
		return nil, err
	}
	if patch.Empty() && len(attachments) == 0 {
		return nil, Invalid("nothing to update")
	}

	next := rec.Clone()
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, Invalid("title cannot be empty")
		}
		next.Title = title
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
	}
	if len(patch.FormData) > 0 {
		data, err := normalizeFormData(patch.FormData)
		if err != nil {
			return nil, err
		}
		next.FormData = data
	}
	next.Attachments = append(next.Attachments, attachments...)
	next.AuditLog = append(next.AuditLog, AuditEntry{
		Action:      AuditUpdated,
		PerformedBy: p.ID,
		Timestamp:   now,
		Details:     "Draft form updated",
	})
	next.UpdatedAt = now
	return next, nil
}

// AppendComment 在可见记录上追加评论
func AppendComment(rec *Record, p Principal, message string, now time.Time) (*Record, error) {
	if rec == nil || !Visible(p, rec) {
		return nil, ErrNotFound
	}
	msg := strings.TrimSpace(message)
	if msg == "" {
		return nil, Invalid("comment message is required")
	}
	next := rec.Clone()
	next.Comments = append(next.Comments, Comment{Author: p.ID, Message: msg, Timestamp: now})
	next.UpdatedAt = now
	return next, nil
}

// normalizeFormData 只校验是否为 JSON 对象,字段结构由模板方负责
func normalizeFormData(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, Invalid("form data must be a JSON object")
	}
	return append(json.RawMessage(nil), trimmed...), nil
}
