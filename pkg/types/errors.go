package types

import (
	"errors"
	"fmt"
)

// ValidationError 请求模板、样例响应或参数不合法
// 同步返回给调用方，永不重试
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "validation failed: " + msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError 创建校验错误
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError 与其他函数的保留名称冲突，或更新了函数中不存在的参数
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// NewConflictError 创建冲突错误
func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// TransportError 出站调用失败（连接级错误，或没有响应体的非 2xx 状态）
type TransportError struct {
	StatusCode int // 0 表示连接级失败
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// 错误定义
var (
	ErrFunctionNotFound = errors.New("function not found")
	ErrScheduleNotFound = errors.New("schedule not found")
)

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict 判断是否为冲突错误
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsTransport 判断是否为传输错误
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
