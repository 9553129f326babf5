package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/formflow-gin/internal/form"
	"github.com/mautops/formflow-gin/internal/utils"
	"github.com/sirupsen/logrus"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrorHandlerMiddleware 错误处理中间件
// 处理器通过 c.Error 登记但尚未写回的错误在这里统一转换
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
			return
		}
		HandleFormError(c, err)
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}

// StatusOf 错误类别到 HTTP 状态码的映射
func StatusOf(err error) int {
	var vErr *utils.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest
	}
	switch form.KindOf(err) {
	case form.KindNotFound:
		return http.StatusNotFound
	case form.KindForbidden:
		return http.StatusForbidden
	case form.KindConflict:
		return http.StatusConflict
	case form.KindInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// HandleFormError 将服务层错误写回响应,基础设施错误不向调用方暴露细节
func HandleFormError(c *gin.Context, err error) {
	status := StatusOf(err)
	switch status {
	case http.StatusNotFound:
		Error(c, status, "not found", err.Error())
	case http.StatusForbidden:
		Error(c, status, "forbidden", err.Error())
	case http.StatusConflict:
		Error(c, status, "conflict", err.Error())
	case http.StatusBadRequest:
		Error(c, status, "invalid request", err.Error())
	default:
		GetLogger().WithError(err).WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"path":       c.Request.URL.Path,
		}).Error("request failed")
		Error(c, status, "internal server error", "")
	}
}
