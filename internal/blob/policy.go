package blob

import (
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/form"
)

// Policy 上传策略,在写入附件存储之前执行
type Policy interface {
	// Check 校验单个文件,扩展名与 MIME 类型都必须在允许列表中
	Check(name, mimeType string, size int64) error
	// CheckCount 校验一次请求的文件数
	CheckCount(n int) error
	// MaxFileSize 单文件大小上限
	MaxFileSize() int64
	// DetectFileType 附件分类
	DetectFileType(name, mimeType string) form.FileType
}

// Rules 上传规则
type Rules struct {
	MaxFileSize       int64
	MaxFiles          int
	AllowedExtensions []string
	AllowedMimeTypes  []string
}

// RulesFromConfig 从配置构造上传规则
func RulesFromConfig(cfg config.UploadConfig) Rules {
	return Rules{
		MaxFileSize:       cfg.MaxFileSize,
		MaxFiles:          cfg.MaxFiles,
		AllowedExtensions: cfg.AllowedExtensions,
		AllowedMimeTypes:  cfg.AllowedMimeTypes,
	}
}

type compiledRules struct {
	maxFileSize int64
	maxFiles    int
	extensions  map[string]struct{}
	mimeTypes   map[string]struct{}
}

// RulePolicy 基于允许列表的上传策略,规则可在运行时替换
type RulePolicy struct {
	mu    sync.RWMutex
	rules compiledRules
}

// NewRulePolicy 创建上传策略
func NewRulePolicy(rules Rules) *RulePolicy {
	p := &RulePolicy{}
	p.Update(rules)
	return p
}

// Update 替换规则,配置热更新时调用
func (p *RulePolicy) Update(rules Rules) {
	c := compiledRules{
		maxFileSize: rules.MaxFileSize,
		maxFiles:    rules.MaxFiles,
		extensions:  make(map[string]struct{}, len(rules.AllowedExtensions)),
		mimeTypes:   make(map[string]struct{}, len(rules.AllowedMimeTypes)),
	}
	for _, ext := range rules.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.extensions[ext] = struct{}{}
	}
	for _, mt := range rules.AllowedMimeTypes {
		c.mimeTypes[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}

	p.mu.Lock()
	p.rules = c
	p.mu.Unlock()
}

func (p *RulePolicy) current() compiledRules {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

func (p *RulePolicy) Check(name, mimeType string, size int64) error {
	r := p.current()
	if r.maxFileSize > 0 && size > r.maxFileSize {
		return form.Invalid("file %s exceeds the %d byte limit", name, r.maxFileSize)
	}
	ext := strings.ToLower(filepath.Ext(name))
	_, extOK := r.extensions[ext]
	_, mimeOK := r.mimeTypes[normalizeMime(mimeType)]
	if !extOK || !mimeOK {
		return form.Invalid("invalid file type: %s", mimeType)
	}
	byExt, byMime := typeByName(name), typeByMime(mimeType)
	if byExt != form.FileTypeOther && byMime != form.FileTypeOther && byExt != byMime {
		return form.Invalid("file %s does not match content type %s", name, mimeType)
	}
	return nil
}

func (p *RulePolicy) CheckCount(n int) error {
	r := p.current()
	if r.maxFiles > 0 && n > r.maxFiles {
		return form.Invalid("too many files: %d (max %d)", n, r.maxFiles)
	}
	return nil
}

func (p *RulePolicy) MaxFileSize() int64 {
	return p.current().maxFileSize
}

var (
	imageExt    = regexp.MustCompile(`\.(jpg|jpeg|png|gif|webp|bmp|svg)$`)
	documentExt = regexp.MustCompile(`\.(doc|docx|txt|rtf|odt|xls|xlsx|csv|ods|ppt|pptx|odp)$`)
)

// DetectFileType MIME 优先,其次按扩展名
func (p *RulePolicy) DetectFileType(name, mimeType string) form.FileType {
	if ft := typeByMime(mimeType); ft != form.FileTypeOther {
		return ft
	}
	return typeByName(name)
}

func typeByMime(mimeType string) form.FileType {
	mt := normalizeMime(mimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return form.FileTypeImage
	case mt == "application/pdf":
		return form.FileTypePDF
	case containsAny(mt, "document", "word", "text", "spreadsheet", "excel", "presentation", "powerpoint"):
		return form.FileTypeDocument
	}
	return form.FileTypeOther
}

func typeByName(name string) form.FileType {
	n := strings.ToLower(name)
	switch {
	case imageExt.MatchString(n):
		return form.FileTypeImage
	case strings.HasSuffix(n, ".pdf"):
		return form.FileTypePDF
	case documentExt.MatchString(n):
		return form.FileTypeDocument
	}
	return form.FileTypeOther
}

// normalizeMime 去掉参数部分,如 "text/plain; charset=utf-8"
func normalizeMime(mt string) string {
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return strings.ToLower(parsed)
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
