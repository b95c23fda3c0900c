package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 错误代码常量
const (
	ErrCodeInternalServerError = http.StatusInternalServerError // 服务器内部错误
	ErrCodeBadRequest          = http.StatusBadRequest          // 请求参数错误
	ErrCodeNotFound            = http.StatusNotFound            // 资源不存在

	ErrCodeRuleNotFound       = http.StatusNotFound   // 规则不存在
	ErrCodeRuleValidationFail = http.StatusBadRequest // 规则验证失败
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// APIError 携带HTTP状态码的错误
type APIError struct {
	Code    int    // HTTP 状态码
	Message string // 错误消息
	Err     error  // 原始错误
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func NewAPIError(code int, message string, err error) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewRuleNotFoundError 创建规则不存在错误
func NewRuleNotFoundError(ruleID string) *APIError {
	return &APIError{
		Code:    ErrCodeRuleNotFound,
		Message: fmt.Sprintf("规则 %s 不存在", ruleID),
	}
}

// NewInvalidRequestError 创建请求格式错误
func NewInvalidRequestError(err error) *APIError {
	return &APIError{
		Code:    ErrCodeBadRequest,
		Message: "请求格式无效",
		Err:     err,
	}
}

// NewRuleValidationError 创建规则验证失败错误
func NewRuleValidationError(err error) *APIError {
	return &APIError{
		Code:    ErrCodeRuleValidationFail,
		Message: "规则验证失败",
		Err:     err,
	}
}

func NewInternalServerError(err error) *APIError {
	return &APIError{
		Code:    ErrCodeInternalServerError,
		Message: "服务器内部错误",
		Err:     err,
	}
}

// HandleError 统一错误处理函数
func HandleError(c echo.Context, err error) error {
	logrus.WithFields(logrus.Fields{
		"error":  err.Error(),
		"path":   c.Request().URL.Path,
		"method": c.Request().Method,
	}).Error("API error")

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		resp := Response{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		}
		// 调试模式下返回详细错误
		if apiErr.Err != nil && IsDebugMode() {
			resp.Data = map[string]string{
				"error_detail": apiErr.Err.Error(),
			}
		}
		return c.JSON(apiErr.Code, resp)
	}

	return c.JSON(http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: "服务器内部错误",
	})
}

// IsDebugMode 日志级别为DEBUG时返回详细错误
func IsDebugMode() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}
