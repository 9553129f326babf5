package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	idPattern       = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	blobNamePattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]{1,10})?$`)
)

// 文本长度上限,按字符计
const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 5000
	MaxCommentLength     = 2000
)

// SanitizeString 移除控制字符(保留换行符和制表符)
func SanitizeString(input string) string {
	var result strings.Builder
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		result.WriteRune(r)
	}
	return result.String()
}

// ValidateID 验证表单/模板 ID 格式
func ValidateID(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(id) > 64 {
		return ErrIDTooLong
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidIDFormat
	}
	return nil
}

// ValidateBlobName 验证附件名,即去掉前缀后的附件 key
func ValidateBlobName(name string) error {
	if name == "" {
		return ErrEmptyID
	}
	if !blobNamePattern.MatchString(name) {
		return ErrInvalidIDFormat
	}
	return nil
}

// CheckLength 清理控制字符并检查长度,允许为空
func CheckLength(s string, maxLen int) (string, error) {
	cleaned := SanitizeString(s)
	if maxLen > 0 && utf8.RuneCountInString(strings.TrimSpace(cleaned)) > maxLen {
		return "", ErrStringTooLong
	}
	return cleaned, nil
}

// TrimAndValidate 清理并验证非空字符串
func TrimAndValidate(s string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ErrEmptyString
	}
	return CheckLength(trimmed, maxLen)
}

// 错误定义
var (
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrEmptyString     = &ValidationError{Code: "EMPTY_STRING", Message: "string cannot be empty"}
	ErrStringTooLong   = &ValidationError{Code: "STRING_TOO_LONG", Message: "string exceeds maximum length"}
)

// ValidationError 验证错误
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
