// Package errors 定义统一错误码
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 输入校验 (1xxx)
	CodeValidation Code = "VALIDATION_ERROR"
	CodeMalformed  Code = "MALFORMED_REQUEST"

	// 业务规则 (2xxx)
	CodeBusinessValidation Code = "BUSINESS_VALIDATION"
	CodeNotFound           Code = "RESOURCE_NOT_FOUND"
	CodeConflict           Code = "CONFLICT"

	// 支付 (3xxx)
	CodePaymentFailed      Code = "PAYMENT_FAILED"
	CodePaymentUnavailable Code = "PAYMENT_UNAVAILABLE"

	// 系统 (9xxx)
	CodeInternal Code = "INTERNAL"
)

// Error 业务错误
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// As 从错误链中提取业务错误
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeBusinessValidation, CodePaymentFailed:
		return http.StatusBadRequest
	case CodeMalformed:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodePaymentUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Title RFC-7807 title
func (e *Error) Title() string {
	switch e.Code {
	case CodeValidation, CodeMalformed:
		return "Bad Request"
	case CodeBusinessValidation:
		return "Business Rule Violation"
	case CodeNotFound:
		return "Resource Not Found"
	case CodeConflict:
		return "Conflict"
	case CodePaymentFailed:
		return "Payment Failed"
	case CodePaymentUnavailable:
		return "External Service Unavailable"
	default:
		return "Internal Server Error"
	}
}

// TypeURI RFC-7807 type
func (e *Error) TypeURI() string {
	switch e.Code {
	case CodeValidation, CodeMalformed:
		return "/errors/validation-error"
	case CodeBusinessValidation:
		return "/errors/business-validation-error"
	case CodeNotFound:
		return "/errors/resource-not-found"
	case CodeConflict:
		return "/errors/conflict"
	case CodePaymentFailed:
		return "/errors/payment-failed"
	case CodePaymentUnavailable:
		return "/errors/payment-unavailable"
	default:
		return "/errors/internal"
	}
}

// 预定义错误
var (
	ErrNotFound = New(CodeNotFound, "resource not found")
	ErrInternal = New(CodeInternal, "internal error")
)
