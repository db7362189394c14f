package http

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// GenericRejectionMessage 服务端拒绝但未给出 message 时的提示
	GenericRejectionMessage = "Request failed"
	// GenericTransportMessage 网络错误或响应无法解析时的提示
	GenericTransportMessage = "Service unavailable"
)

// ErrorKind 区分“请求被服务端拒绝”和“服务不可用”
type ErrorKind int

const (
	// KindRejected 服务端返回非 2xx
	KindRejected ErrorKind = iota + 1
	// KindTransport 网络不可达、超时或响应格式错误
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// RequestError 远端请求失败
type RequestError struct {
	Kind       ErrorKind
	Method     string
	Endpoint   string
	StatusCode int    // 仅 KindRejected（或解码失败）时有值
	Message    string // 面向用户的提示
	Err        error  // 底层错误（KindTransport）
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Detail 带上方法、路径和状态码的完整描述，用于日志
func (e *RequestError) Detail() string {
	if e.Kind == KindRejected {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Endpoint, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Endpoint, e.Kind)
}

// AsRequestError 取出错误链中的 RequestError
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsAuthFailure 凭证无效/过期或登录凭据错误（401）
func IsAuthFailure(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Kind == KindRejected && re.StatusCode == http.StatusUnauthorized
}

// IsRejected 服务端明确拒绝
func IsRejected(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Kind == KindRejected
}

// IsTransport 服务不可用
func IsTransport(err error) bool {
	re, ok := AsRequestError(err)
	return ok && re.Kind == KindTransport
}
