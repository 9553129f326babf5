package form

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindNotFound  ErrorKind = "not_found"
	KindForbidden ErrorKind = "forbidden"
	KindConflict  ErrorKind = "conflict"
	KindInvalid   ErrorKind = "invalid"
)

// Error 生命周期错误,调用方可恢复
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is 按类别比较,使 errors.Is(err, ErrNotFound) 对任意消息成立
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound  = &Error{Kind: KindNotFound, Message: "form not found"}
	ErrForbidden = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrConflict  = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalid   = &Error{Kind: KindInvalid, Message: "invalid request"}
)

// NotFound 构造 NotFound 错误
func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Forbidden 构造 Forbidden 错误
func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Conflict 构造 Conflict 错误
func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Invalid 构造 Invalid 错误
func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...)}
}

// KindOf 返回错误类别,非生命周期错误返回空串
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
