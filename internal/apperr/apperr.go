package apperr

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation_error"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeParse             ErrorType = "parse_error"
	ErrorTypeProvider          ErrorType = "provider_error"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新的 AppError
func New(errType ErrorType, message string, err error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// NewValidation 创建验证错误
func NewValidation(message string, err error) *AppError {
	return New(ErrorTypeValidation, message, err)
}

// NewNotFound 创建未找到错误
func NewNotFound(message string) *AppError {
	return New(ErrorTypeNotFound, message, nil)
}

// NewInvalidTransition 创建非法状态转换错误
func NewInvalidTransition(message string) *AppError {
	return New(ErrorTypeInvalidTransition, message, nil)
}

// NewConflict 创建冲突错误
func NewConflict(message string, err error) *AppError {
	return New(ErrorTypeConflict, message, err)
}

// NewParse 创建解析错误
func NewParse(message string, err error) *AppError {
	return New(ErrorTypeParse, message, err)
}

// NewProvider 创建供应商错误
func NewProvider(message string, err error) *AppError {
	return New(ErrorTypeProvider, message, err)
}

// IsType 判断错误是否属于指定类型
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}
