package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/auth"
	"github.com/mautops/formflow-gin/internal/blob"
	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/repository"
	"github.com/mautops/formflow-gin/internal/service"
	"github.com/mautops/formflow-gin/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// maxMultipartMemory 超出部分由 net/http 落盘到临时文件
	maxMultipartMemory = 8 << 20
)

// FormController 表单控制器
type FormController struct {
	formService service.FormService
}

// NewFormController 创建表单控制器
func NewFormController(formService service.FormService) *FormController {
	return &FormController{formService: formService}
}

// DecisionRequest 审核/决定请求
type DecisionRequest struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// CommentRequest 评论请求
type CommentRequest struct {
	Message string `json:"message"`
}

// attachmentMeta 与 attachments 文件按顺序一一对应的附加信息
type attachmentMeta struct {
	FileType    string `json:"fileType"`
	Description string `json:"description"`
}

// Create 创建草稿
func (fc *FormController) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req service.CreateDraftRequest
	if isMultipart(c) {
		mf, err := c.MultipartForm()
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid request", err.Error())
			return
		}
		req.Title = formValue(mf, "title")
		req.Description = formValue(mf, "description")
		req.Template = formValue(mf, "template")
		req.Department = formValue(mf, "department")
		if raw := formValue(mf, "formData"); raw != "" {
			req.FormData = json.RawMessage(raw)
		}
		if req.Attachments, err = uploadsFrom(mf); err != nil {
			Error(c, http.StatusBadRequest, "invalid attachments", err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	var err error
	if req.Title, err = utils.CheckLength(strings.TrimSpace(req.Title), utils.MaxTitleLength); err != nil {
		HandleFormError(c, err)
		return
	}
	if req.Description, err = utils.CheckLength(strings.TrimSpace(req.Description), utils.MaxDescriptionLength); err != nil {
		HandleFormError(c, err)
		return
	}
	req.Template = strings.TrimSpace(req.Template)

	rec, err := fc.formService.CreateDraft(requestContext(c), p, &req)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Created(c, rec)
}

// Update 修改草稿
func (fc *FormController) Update(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := formID(c)
	if !ok {
		return
	}

	var req service.UpdateDraftRequest
	if isMultipart(c) {
		mf, err := c.MultipartForm()
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid request", err.Error())
			return
		}
		if v, ok := mf.Value["title"]; ok && len(v) > 0 {
			req.Title = &v[0]
		}
		if v, ok := mf.Value["description"]; ok && len(v) > 0 {
			req.Description = &v[0]
		}
		if raw := formValue(mf, "formData"); raw != "" {
			req.FormData = json.RawMessage(raw)
		}
		if req.Attachments, err = uploadsFrom(mf); err != nil {
			Error(c, http.StatusBadRequest, "invalid attachments", err.Error())
			return
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if req.Title != nil {
		title, err := utils.CheckLength(strings.TrimSpace(*req.Title), utils.MaxTitleLength)
		if err != nil {
			HandleFormError(c, err)
			return
		}
		req.Title = &title
	}
	if req.Description != nil {
		desc, err := utils.CheckLength(strings.TrimSpace(*req.Description), utils.MaxDescriptionLength)
		if err != nil {
			HandleFormError(c, err)
			return
		}
		req.Description = &desc
	}

	rec, err := fc.formService.UpdateDraft(requestContext(c), p, id, &req)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Success(c, rec)
}

// Delete 删除草稿
func (fc *FormController) Delete(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := formID(c)
	if !ok {
		return
	}

	if err := fc.formService.DeleteDraft(requestContext(c), p, id); err != nil {
		HandleFormError(c, err)
		return
	}
	Success(c, gin.H{"id": id})
}

// Submit 提交草稿
func (fc *FormController) Submit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := formID(c)
	if !ok {
		return
	}

	rec, err := fc.formService.Submit(requestContext(c), p, id)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Success(c, rec)
}

// Review 主管审核
func (fc *FormController) Review(c *gin.Context) {
	fc.decide(c, fc.formService.SupervisorDecide)
}

// Decide 管理员决定
func (fc *FormController) Decide(c *gin.Context) {
	fc.decide(c, fc.formService.AdminDecide)
}

type decideFunc func(ctx context.Context, p form.Principal, id string, decision string, comment string) (*form.Record, error)

func (fc *FormController) decide(c *gin.Context, fn decideFunc) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := formID(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	comment, err := utils.CheckLength(strings.TrimSpace(req.Comment), utils.MaxCommentLength)
	if err != nil {
		HandleFormError(c, err)
		return
	}

	rec, err := fn(requestContext(c), p, id, strings.TrimSpace(req.Action), comment)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Success(c, rec)
}

// AddComment 追加评论
func (fc *FormController) AddComment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := formID(c)
	if !ok {
		return
	}

	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	message, err := utils.CheckLength(strings.TrimSpace(req.Message), utils.MaxCommentLength)
	if err != nil {
		HandleFormError(c, err)
		return
	}

	rec, err := fc.formService.AddComment(requestContext(c), p, id, message)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Created(c, rec)
}

// List 列出可见表单
func (fc *FormController) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	page, pageSize := pagination(c)
	filter := repository.FormFilter{
		Status:   form.Status(c.Query("status")),
		Page:     page,
		PageSize: pageSize,
	}
	records, total, err := fc.formService.ListVisible(requestContext(c), p, filter)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Paginated(c, records, NewPaginationInfo(page, pageSize, total))
}

// Get 读取单个表单
func (fc *FormController) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := formID(c)
	if !ok {
		return
	}

	rec, err := fc.formService.GetVisible(requestContext(c), p, id)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	Success(c, rec)
}

// Download 以附件形式下载
func (fc *FormController) Download(c *gin.Context) {
	fc.serveAttachment(c, "attachment")
}

// View 内联预览附件
func (fc *FormController) View(c *gin.Context) {
	fc.serveAttachment(c, "inline")
}

func (fc *FormController) serveAttachment(c *gin.Context, disposition string) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := formID(c)
	if !ok {
		return
	}
	name := c.Param("blobId")
	if err := utils.ValidateBlobName(name); err != nil {
		// 非法名称与不存在的附件同样处理
		Error(c, http.StatusNotFound, "not found", "attachment not found")
		return
	}

	att, body, err := fc.formService.OpenAttachment(requestContext(c), p, id, blob.KeyPrefix+name)
	if err != nil {
		HandleFormError(c, err)
		return
	}
	defer body.Close()

	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extra := map[string]string{
		"Content-Disposition": mime.FormatMediaType(disposition, map[string]string{"filename": att.OriginalName}),
	}
	c.DataFromReader(http.StatusOK, att.Size, contentType, body, extra)
}

// principal 读取调用者身份,缺失时直接写回 401
func principal(c *gin.Context) (form.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "unauthorized", "missing principal")
		return form.Principal{}, false
	}
	return p, true
}

// formID 读取并校验路径中的表单 ID,格式非法时按不存在处理
func formID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := utils.ValidateID(id); err != nil {
		Error(c, http.StatusNotFound, "not found", "form not found")
		return "", false
	}
	return id, true
}

// requestContext 将请求信息附加到上下文,供审计日志使用
func requestContext(c *gin.Context) context.Context {
	return service.WithRequestInfo(c.Request.Context(), service.RequestInfo{
		RequestID: c.GetString("request_id"),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

func formValue(mf *multipart.Form, key string) string {
	if v := mf.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// uploadsFrom 读取 attachments 文件及可选的 attachmentMetadata
func uploadsFrom(mf *multipart.Form) ([]service.Upload, error) {
	files := mf.File["attachments"]
	if len(files) == 0 {
		return nil, nil
	}

	var metas []attachmentMeta
	if raw := formValue(mf, "attachmentMetadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metas); err != nil {
			return nil, &utils.ValidationError{Code: "INVALID_ATTACHMENT_METADATA", Message: "attachmentMetadata must be a JSON array"}
		}
	}

	uploads := make([]service.Upload, 0, len(files))
	for i, fh := range files {
		fh := fh
		u := service.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		}
		if i < len(metas) {
			u.FileType = metas[i].FileType
			u.Description = strings.TrimSpace(metas[i].Description)
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}
